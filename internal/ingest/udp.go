package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/dgnsrekt/tau-tower/internal/relay"
)

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

// UDPSource receives pages as datagrams.
type UDPSource struct {
	addr        string
	maxDatagram int
	router      *relay.Router
	logger      *zap.Logger
}

// NewUDPSource creates a UDPSource bound to addr once Run is called.
func NewUDPSource(addr string, maxDatagram int, router *relay.Router, logger *zap.Logger) *UDPSource {
	if maxDatagram <= 0 || maxDatagram > MaxDatagramSize {
		maxDatagram = MaxDatagramSize
	}
	return &UDPSource{
		addr:        addr,
		maxDatagram: maxDatagram,
		router:      router,
		logger:      logger.With(zap.String("transport", "udp")),
	}
}

// Run binds the socket and receives until ctx is cancelled. A bind failure is
// returned immediately.
func (s *UDPSource) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("binding datagram source on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, conn)
}

// Serve receives pages from conn until ctx is cancelled or the bus closes.
// conn is closed on return.
func (s *UDPSource) Serve(ctx context.Context, conn net.PacketConn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.logger.Info("datagram source listening", zap.String("addr", conn.LocalAddr().String()))

	src := &datagramSource{conn: conn, buf: make([]byte, s.maxDatagram), logger: s.logger}
	pages, err := s.router.With(zap.String("transport", "udp")).Pump(src, relay.DropMalformed)
	if ctx.Err() != nil {
		s.logger.Info("datagram source stopped", zap.Int("pages", pages))
		return nil
	}
	return fmt.Errorf("datagram source: %w", err)
}

// datagramSource adapts a PacketConn to relay.PageSource. The returned page
// aliases the receive buffer; the router copies what it keeps.
type datagramSource struct {
	conn   net.PacketConn
	buf    []byte
	logger *zap.Logger
}

func (d *datagramSource) ReadPage() ([]byte, error) {
	for {
		n, _, err := d.conn.ReadFrom(d.buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, err
			}
			d.logger.Debug("datagram read failed", zap.Error(err))
			continue
		}
		if n == 0 {
			continue
		}
		return d.buf[:n], nil
	}
}
