package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/dgnsrekt/tau-tower/internal/auth"
	"github.com/dgnsrekt/tau-tower/internal/ogg"
	"github.com/dgnsrekt/tau-tower/internal/relay"
)

const (
	// DefaultBackoff is how long a rejected or failed handshake holds the
	// source slot before the next connection is accepted.
	DefaultBackoff = 50 * time.Millisecond

	// Time allowed to write a control message to the source.
	writeWait = 10 * time.Second

	// Time allowed between two messages (pages or pongs) from the source.
	pongWait = 60 * time.Second

	// Send pings to the source with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum page size accepted from the source.
	maxPageSize = 64 * 1024

	// Time allowed to receive the handshake request headers.
	handshakeTimeout = 10 * time.Second
)

// ErrUnexpectedMessage ends a source session that sends anything other than
// binary pages.
var ErrUnexpectedMessage = errors.New("ingest: unexpected non-binary message from source")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSSource accepts an authenticated WebSocket source, one connection at a
// time.
type WSSource struct {
	addr      string
	creds     auth.Credentials
	router    *relay.Router
	backoff   time.Duration
	logger    *zap.Logger
	connected atomic.Bool
}

// NewWSSource creates a WSSource listening on addr once Run is called.
func NewWSSource(addr string, creds auth.Credentials, router *relay.Router, backoff time.Duration, logger *zap.Logger) *WSSource {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &WSSource{
		addr:    addr,
		creds:   creds,
		router:  router,
		backoff: backoff,
		logger:  logger.With(zap.String("transport", "websocket")),
	}
}

// Connected reports whether a source session is currently active.
func (s *WSSource) Connected() bool {
	return s.connected.Load()
}

// Run binds the source address and serves until ctx is cancelled. A bind
// failure is returned immediately.
func (s *WSSource) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening for source on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts source connections on ln until ctx is cancelled. Only one
// connection is served at a time; further connections wait in the accept
// backlog.
func (s *WSSource) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: handshakeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	// Every handshake ends its connection so that the slot is released.
	server.SetKeepAlivesEnabled(false)

	stop := context.AfterFunc(ctx, func() { _ = server.Close() })
	defer stop()

	s.logger.Info("waiting for source", zap.String("addr", ln.Addr().String()))

	err := server.Serve(netutil.LimitListener(ln, 1))
	if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("source listener: %w", err)
}

// ServeHTTP performs the handshake and runs the source session.
func (s *WSSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(zap.String("remote", r.RemoteAddr))

	if err := s.creds.Authenticate(r.Header); err != nil {
		status := auth.StatusCode(err)
		logger.Warn("source handshake rejected",
			zap.Int("status", status),
			zap.Error(err),
		)
		w.Header().Set("Connection", "close")
		http.Error(w, http.StatusText(status), status)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		s.pause(r.Context())
		return
	}

	// A failed upgrade must not leave the connection idling in the only
	// source slot.
	w.Header().Set("Connection", "close")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("source upgrade failed", zap.Error(err))
		s.pause(r.Context())
		return
	}

	s.session(r.Context(), conn, zap.String("remote", r.RemoteAddr), zap.String("sessionID", uuid.New().String()))
}

// pause holds the source slot for the backoff period.
func (s *WSSource) pause(ctx context.Context) {
	t := time.NewTimer(s.backoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// session routes pages from an upgraded connection until it fails.
// A malformed page ends the session.
func (s *WSSource) session(ctx context.Context, conn *websocket.Conn, fields ...zap.Field) {
	router := s.router.With(append([]zap.Field{zap.String("transport", "websocket")}, fields...)...)
	logger := s.logger.With(fields...)

	s.connected.Store(true)
	defer s.connected.Store(false)
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetReadLimit(maxPageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go pingPump(conn, done)

	logger.Info("source connected")

	pages, err := router.Pump(&wsPageSource{conn: conn}, relay.StopOnMalformed)
	switch {
	case ctx.Err() != nil:
		logger.Info("source session closed on shutdown", zap.Int("pages", pages))
	case errors.Is(err, ogg.ErrFraming):
		logger.Warn("malformed page from source, ending session",
			zap.Int("pages", pages),
			zap.Error(err),
		)
		msg := websocket.FormatCloseMessage(websocket.CloseInvalidFramePayloadData, "malformed page")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		logger.Info("source disconnected", zap.Int("pages", pages))
	default:
		logger.Warn("source session ended",
			zap.Int("pages", pages),
			zap.Error(err),
		)
	}
}

// pingPump keeps the source connection alive until done is closed.
func pingPump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// wsPageSource adapts a WebSocket connection to relay.PageSource.
type wsPageSource struct {
	conn *websocket.Conn
}

func (w *wsPageSource) ReadPage() ([]byte, error) {
	msgType, page, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.BinaryMessage {
		return nil, ErrUnexpectedMessage
	}
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	return page, nil
}
