package source

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/tau-tower/internal/auth"
)

// Time allowed to write one page to the relay.
const writeWait = 10 * time.Second

// Sender delivers pages to the relay over one connection.
type Sender interface {
	Send(page []byte) error
	Close() error
}

// DialFunc opens a new connection to the relay.
type DialFunc func(ctx context.Context) (Sender, error)

// UDPDialer sends each page as one datagram to addr.
func UDPDialer(addr string) DialFunc {
	return func(ctx context.Context) (Sender, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "udp", addr)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", addr, err)
		}
		return &udpSender{conn: conn}, nil
	}
}

type udpSender struct {
	conn net.Conn
}

func (s *udpSender) Send(page []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	_, err := s.conn.Write(page)
	return err
}

func (s *udpSender) Close() error {
	return s.conn.Close()
}

// WSDialer connects to the relay's WebSocket ingest at url, presenting creds
// in the handshake headers. A refused handshake returns an error wrapping
// ErrHandshakeRejected.
func WSDialer(url string, creds auth.Credentials) DialFunc {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	return func(ctx context.Context) (Sender, error) {
		header := http.Header{}
		creds.SetHeaders(header)

		conn, resp, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil {
				switch resp.StatusCode {
				case http.StatusUnauthorized, http.StatusBadRequest, http.StatusForbidden:
					return nil, fmt.Errorf("%w: %s", ErrHandshakeRejected, resp.Status)
				}
			}
			return nil, fmt.Errorf("dialing %s: %w", url, err)
		}
		return &wsSender{conn: conn}, nil
	}
}

type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) Send(page []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, page)
}

func (s *wsSender) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
