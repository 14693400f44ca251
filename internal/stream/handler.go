// Package stream delivers the live Ogg/Opus stream to HTTP listeners.
package stream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/tau-tower/internal/relay"
)

// ContentType is the media type of the delivered stream.
const ContentType = "audio/ogg"

// Time allowed to write one page to a listener.
const writeWait = 10 * time.Second

// Handler serves one listener per request: the cached header pages first,
// then every data page published on the bus, as a single chunked body.
type Handler struct {
	headers       *relay.HeaderCache
	bus           *relay.Bus
	headerTimeout time.Duration
	logger        *zap.Logger
}

// NewHandler creates a Handler. A listener that arrives before the stream
// headers are known waits for them; headerTimeout bounds that wait, zero
// meaning until the listener leaves.
func NewHandler(headers *relay.HeaderCache, bus *relay.Bus, headerTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		headers:       headers,
		bus:           bus,
		headerTimeout: headerTimeout,
		logger:        logger,
	}
}

// ServeHTTP streams to the listener until it disconnects or the bus closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(
		zap.String("sessionID", uuid.New().String()),
		zap.String("remote", r.RemoteAddr),
	)

	// Subscribe before reading the snapshot so that no page published in
	// between is missed.
	sub, err := h.bus.Subscribe()
	if err != nil {
		logger.Debug("listener refused", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	headers, err := h.awaitHeaders(r.Context())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
			logger.Info("no stream headers before timeout", zap.Duration("timeout", h.headerTimeout))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
		return
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := writePage(w, rc, headers); err != nil {
		logger.Debug("failed to write stream headers", zap.Error(err))
		return
	}

	logger.Info("listener connected", zap.Int("listeners", h.bus.Subscribers()))

	var dropped uint64
	for {
		page, lagged, err := sub.Next(r.Context())
		if lagged > 0 {
			dropped += lagged
			logger.Debug("listener lagging, pages dropped",
				zap.Uint64("lagged", lagged),
				zap.Uint64("dropped", dropped),
			)
		}
		if err != nil {
			if errors.Is(err, relay.ErrBusClosed) {
				logger.Info("stream ended", zap.Uint64("dropped", dropped))
			} else {
				logger.Info("listener disconnected", zap.Uint64("dropped", dropped))
			}
			return
		}

		if err := writePage(w, rc, page); err != nil {
			logger.Info("listener write failed",
				zap.Uint64("dropped", dropped),
				zap.Error(err),
			)
			return
		}
	}
}

func (h *Handler) awaitHeaders(ctx context.Context) ([]byte, error) {
	if snapshot := h.headers.Snapshot(); snapshot != nil {
		return snapshot, nil
	}
	if h.headerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.headerTimeout)
		defer cancel()
	}
	return h.headers.Wait(ctx)
}

func writePage(w http.ResponseWriter, rc *http.ResponseController, page []byte) error {
	if err := rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := w.Write(page); err != nil {
		return err
	}
	return rc.Flush()
}
