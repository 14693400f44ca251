package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dgnsrekt/tau-tower/internal/ogg"
)

type slicePageSource struct {
	pages [][]byte
}

func (s *slicePageSource) ReadPage() ([]byte, error) {
	if len(s.pages) == 0 {
		return nil, io.EOF
	}
	page := s.pages[0]
	s.pages = s.pages[1:]
	return page, nil
}

func TestRouter_RoutesHeadersAndData(t *testing.T) {
	headers := NewHeaderCache()
	bus := NewBus(8)
	router := NewRouter(headers, bus, time.Second, zap.NewNop())
	head, tags, data := testPages(t, 1)

	sub, _ := bus.Subscribe()
	defer sub.Close()

	for _, page := range [][]byte{head, tags} {
		kind, err := router.Route(page)
		if err != nil || kind != ogg.KindHeader {
			t.Fatalf("expected header page, got %s, %v", kind, err)
		}
	}
	if bus.Published() != 0 {
		t.Errorf("header pages must not reach the bus, published %d", bus.Published())
	}

	kind, err := router.Route(data[0])
	if err != nil || kind != ogg.KindData {
		t.Fatalf("expected data page, got %s, %v", kind, err)
	}

	page, _ := nextPage(t, sub)
	if !bytes.Equal(page, data[0]) {
		t.Error("data page not forwarded to subscriber")
	}
}

func TestRouter_LateListenerGetsHeadersThenLiveData(t *testing.T) {
	headers := NewHeaderCache()
	bus := NewBus(8)
	router := NewRouter(headers, bus, time.Second, zap.NewNop())
	h1, h2, data := testPages(t, 3)

	for _, page := range [][]byte{h1, h2, data[0]} {
		if _, err := router.Route(page); err != nil {
			t.Fatalf("Route failed: %v", err)
		}
	}

	// Listener joins between D1 and D2: subscribe first, then snapshot.
	sub, _ := bus.Subscribe()
	defer sub.Close()
	var got []byte
	got = append(got, headers.Snapshot()...)

	for _, page := range data[1:] {
		if _, err := router.Route(page); err != nil {
			t.Fatalf("Route failed: %v", err)
		}
	}
	for range data[1:] {
		page, _ := nextPage(t, sub)
		got = append(got, page...)
	}

	var want []byte
	for _, page := range [][]byte{h1, h2, data[1], data[2]} {
		want = append(want, page...)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("listener stream mismatch (-want +got):\n%s", diff)
	}
}

func TestRouter_RejectsMalformedPage(t *testing.T) {
	bus := NewBus(8)
	router := NewRouter(NewHeaderCache(), bus, time.Second, zap.NewNop())

	if _, err := router.Route([]byte("too short")); !errors.Is(err, ogg.ErrFraming) {
		t.Errorf("expected framing error, got %v", err)
	}
	if bus.Published() != 0 {
		t.Error("malformed page reached the bus")
	}
}

func TestRouter_ThrottlesNoListenerWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	router := NewRouter(NewHeaderCache(), NewBus(8), time.Hour, zap.New(core))
	_, _, data := testPages(t, 5)

	for _, page := range data {
		if _, err := router.Route(page); err != nil {
			t.Fatalf("missing listeners must not fail Route: %v", err)
		}
	}

	if n := logs.FilterMessage("no listeners for stream").Len(); n != 1 {
		t.Errorf("expected exactly one throttled warning, got %d", n)
	}
}

func TestRouter_ClosedBus(t *testing.T) {
	bus := NewBus(8)
	bus.Close()
	router := NewRouter(NewHeaderCache(), bus, time.Second, zap.NewNop())
	_, _, data := testPages(t, 1)

	if _, err := router.Route(data[0]); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
}

func TestRouter_PumpDropsMalformedAndStopsOnSourceError(t *testing.T) {
	headers := NewHeaderCache()
	bus := NewBus(8)
	router := NewRouter(headers, bus, time.Second, zap.NewNop())
	head, tags, data := testPages(t, 2)

	sub, _ := bus.Subscribe()
	defer sub.Close()

	src := &slicePageSource{pages: [][]byte{head, []byte("junk"), tags, data[0], {0x00}, data[1]}}
	routed, err := router.Pump(src, DropMalformed)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected source error to end the pump, got %v", err)
	}
	if routed != 4 {
		t.Errorf("expected 4 routed pages, got %d", routed)
	}
	if !headers.Filled() {
		t.Error("expected headers to be cached")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i, want := range data {
		page, _, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		if !bytes.Equal(page, want) {
			t.Errorf("page %d out of order", i)
		}
	}
}

func TestRouter_PumpStopsOnMalformed(t *testing.T) {
	headers := NewHeaderCache()
	bus := NewBus(8)
	router := NewRouter(headers, bus, time.Second, zap.NewNop())
	head, tags, data := testPages(t, 2)

	src := &slicePageSource{pages: [][]byte{head, tags, data[0], []byte("junk"), data[1]}}
	routed, err := router.Pump(src, StopOnMalformed)
	if !errors.Is(err, ogg.ErrFraming) {
		t.Fatalf("expected a framing error to end the pump, got %v", err)
	}
	if routed != 3 {
		t.Errorf("expected 3 routed pages, got %d", routed)
	}
	if got := bus.Published(); got != 1 {
		t.Errorf("expected only the page before the malformed one to be published, got %d", got)
	}
}

func TestRouter_WithSharesThrottle(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	bus := NewBus(8)
	router := NewRouter(NewHeaderCache(), bus, time.Hour, zap.New(core))
	_, _, data := testPages(t, 2)

	first := router.With(zap.String("sessionID", "a"))
	second := router.With(zap.String("sessionID", "b"))
	if _, err := first.Route(data[0]); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if _, err := second.Route(data[1]); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	warnings := logs.FilterMessage("no listeners for stream")
	if warnings.Len() != 1 {
		t.Fatalf("expected one warning across sessions, got %d", warnings.Len())
	}
	if got := warnings.All()[0].ContextMap()["sessionID"]; got != "a" {
		t.Errorf("expected warning to carry the session field, got %v", got)
	}
	if bus.Published() != 2 {
		t.Errorf("expected both sessions to publish on the shared bus")
	}
}

func TestRouter_PumpFromOggFile(t *testing.T) {
	headers := NewHeaderCache()
	router := NewRouter(headers, NewBus(8), time.Second, zap.NewNop())
	head, tags, data := testPages(t, 3)

	var file bytes.Buffer
	for _, page := range append([][]byte{head, tags}, data...) {
		file.Write(page)
	}

	routed, err := router.Pump(ogg.NewPageReader(&file), StopOnMalformed)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if routed != 5 {
		t.Errorf("expected 5 routed pages, got %d", routed)
	}
	if want := append(append([]byte{}, head...), tags...); !bytes.Equal(headers.Snapshot(), want) {
		t.Error("headers not cached from file")
	}
}
