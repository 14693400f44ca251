package relay

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/tau-tower/internal/ogg"
)

// DefaultWarnInterval bounds how often a missing-listener warning is logged.
const DefaultWarnInterval = 10 * time.Second

// PageSource yields raw pages from one connected source. ReadPage returns an
// error when the source is exhausted or its transport failed. A returned page
// is only valid until the next call.
type PageSource interface {
	ReadPage() ([]byte, error)
}

// FramingPolicy decides what Pump does with a page that fails to classify.
type FramingPolicy int

const (
	// DropMalformed logs the page at debug and keeps reading.
	DropMalformed FramingPolicy = iota
	// StopOnMalformed ends the pump with the framing error.
	StopOnMalformed
)

// Router runs the classify, cache and forward sequence shared by every ingest
// transport: header pages go to the HeaderCache, everything else to the Bus.
type Router struct {
	headers *HeaderCache
	bus     *Bus
	warn    *rate.Limiter
	logger  *zap.Logger
}

// NewRouter creates a Router. warnInterval throttles the warning logged when
// pages are published while nobody is listening.
func NewRouter(headers *HeaderCache, bus *Bus, warnInterval time.Duration, logger *zap.Logger) *Router {
	if warnInterval <= 0 {
		warnInterval = DefaultWarnInterval
	}
	return &Router{
		headers: headers,
		bus:     bus,
		warn:    rate.NewLimiter(rate.Every(warnInterval), 1),
		logger:  logger,
	}
}

// With returns a Router that logs with fields added and shares the cache,
// the bus and the warning throttle with r.
func (r *Router) With(fields ...zap.Field) *Router {
	cp := *r
	cp.logger = r.logger.With(fields...)
	return &cp
}

// Route classifies one page and forwards it. Malformed pages return an error
// wrapping ogg.ErrFraming; a closed bus returns ErrBusClosed. A bus without
// subscribers is not an error for the caller.
func (r *Router) Route(page []byte) (ogg.Kind, error) {
	kind, err := ogg.Classify(page)
	if err != nil {
		return kind, err
	}

	if kind == ogg.KindHeader {
		if r.headers.Offer(page) {
			r.logger.Info("stream headers cached",
				zap.Int("bytes", len(r.headers.Snapshot())),
			)
		}
		return kind, nil
	}

	if err := r.bus.Publish(page); err != nil {
		if !errors.Is(err, ErrNoSubscribers) {
			return kind, err
		}
		if r.warn.Allow() {
			r.logger.Warn("no listeners for stream", zap.Error(err))
		}
	}
	return kind, nil
}

// Pump routes every page read from src until src fails or the bus closes.
// policy decides whether a malformed page is skipped or ends the pump.
func (r *Router) Pump(src PageSource, policy FramingPolicy) (int, error) {
	pages := 0
	for {
		page, err := src.ReadPage()
		if err != nil {
			return pages, err
		}

		if _, err := r.Route(page); err != nil {
			if errors.Is(err, ogg.ErrFraming) && policy == DropMalformed {
				r.logger.Debug("dropping malformed page",
					zap.Int("size", len(page)),
					zap.Error(err),
				)
				continue
			}
			return pages, err
		}
		pages++
	}
}
