// Package source replays an Ogg/Opus file into a tau relay, standing in for a
// live encoder.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/tau-tower/internal/ogg"
)

// SampleRate is the Opus granule clock.
const SampleRate = 48000

type Options struct {
	// Realtime paces pages by their granule position instead of sending
	// them as fast as the connection allows.
	Realtime bool
	// Loop restarts the file at EOF until the context ends.
	Loop bool
	// RetryCount is how many times a lost connection is redialed before
	// giving up.
	RetryCount int
	// RetryDelay is the first redial delay; it doubles on each attempt.
	RetryDelay time.Duration
}

// Player streams the pages of one file to the relay.
type Player struct {
	path    string
	dial    DialFunc
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger

	sender Sender
	sent   int
}

func NewPlayer(path string, dial DialFunc, opts Options, logger *zap.Logger) *Player {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Player{
		path: path,
		dial: dial,
		opts: opts,
		// Bounds how often a flapping connection is reopened.
		limiter: rate.NewLimiter(rate.Every(opts.RetryDelay), 1),
		logger:  logger,
	}
}

// Run sends the file until it ends, the context is cancelled, or the relay
// cannot be reached. A cancelled context is not an error.
func (p *Player) Run(ctx context.Context) error {
	if err := p.connect(ctx); err != nil {
		return err
	}
	defer func() {
		if p.sender != nil {
			p.sender.Close()
		}
	}()

	var offset time.Duration
	start := time.Now()
	for pass := 0; ; pass++ {
		length, err := p.playFile(ctx, start, offset)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("playback stopped", zap.Int("pages", p.sent))
				return nil
			}
			return err
		}
		p.logger.Info("reached end of file",
			zap.String("file", p.path),
			zap.Int("pass", pass),
			zap.Int("pages", p.sent),
		)
		if !p.opts.Loop {
			return nil
		}
		offset += length
	}
}

// playFile sends one pass of the file and returns its duration by granule.
func (p *Player) playFile(ctx context.Context, start time.Time, offset time.Duration) (time.Duration, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", p.path, err)
	}
	defer f.Close()

	reader := ogg.NewPageReader(f)
	var last time.Duration
	pages := 0
	for {
		page, err := reader.ReadPage()
		if errors.Is(err, io.EOF) {
			if pages == 0 {
				return 0, fmt.Errorf("%s: %w", p.path, ErrNoPages)
			}
			return last, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading %s: %w", p.path, err)
		}
		pages++

		if at, ok := pagePosition(page); ok {
			last = at
			if p.opts.Realtime {
				if err := sleepUntil(ctx, start.Add(offset+at)); err != nil {
					return 0, err
				}
			}
		}

		if err := p.send(ctx, page); err != nil {
			return 0, err
		}
	}
}

// pagePosition converts the page granule into a stream offset. Pages that
// end no packet carry granule -1 and have no position.
func pagePosition(page []byte) (time.Duration, bool) {
	granule, err := ogg.Granule(page)
	if err != nil || granule < 0 {
		return 0, false
	}
	return time.Duration(granule) * time.Second / SampleRate, true
}

func sleepUntil(ctx context.Context, at time.Time) error {
	d := time.Until(at)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// send delivers one page, reconnecting once the connection is lost.
func (p *Player) send(ctx context.Context, page []byte) error {
	for {
		err := p.sender.Send(page)
		if err == nil {
			p.sent++
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("send failed, reconnecting", zap.Error(err))
		p.sender.Close()
		p.sender = nil
		if err := p.connect(ctx); err != nil {
			return err
		}
	}
}

func (p *Player) connect(ctx context.Context) error {
	// Wait for rate limiter
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.opts.RetryCount; attempt++ {
		if attempt > 0 {
			delay := p.opts.RetryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			p.logger.Debug("retrying connection", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		sender, err := p.dial(ctx)
		if err != nil {
			if errors.Is(err, ErrHandshakeRejected) {
				return err
			}
			lastErr = err
			continue
		}

		p.sender = sender
		p.logger.Info("connected to relay", zap.Int("attempt", attempt))
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
