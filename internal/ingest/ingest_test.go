package ingest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/tau-tower/internal/ogg"
	"github.com/dgnsrekt/tau-tower/internal/relay"
)

type fixture struct {
	headers *relay.HeaderCache
	bus     *relay.Bus
	router  *relay.Router
}

func newFixture() *fixture {
	headers := relay.NewHeaderCache()
	bus := relay.NewBus(32)
	return &fixture{
		headers: headers,
		bus:     bus,
		router:  relay.NewRouter(headers, bus, time.Minute, zap.NewNop()),
	}
}

func buildStream(t *testing.T, count int) (head, tags []byte, data [][]byte) {
	t.Helper()

	build := func(h ogg.PageHeader, payload []byte) []byte {
		page, err := ogg.BuildPage(h, payload)
		if err != nil {
			t.Fatalf("BuildPage failed: %v", err)
		}
		return page
	}

	head = build(ogg.PageHeader{Flags: ogg.FlagBOS}, append([]byte("OpusHead"), 1, 2, 0, 0, 0x80, 0xbb, 0, 0, 0, 0, 0))
	tags = build(ogg.PageHeader{Sequence: 1}, append([]byte("OpusTags"), 0, 0, 0, 0, 0, 0, 0, 0))
	for i := 0; i < count; i++ {
		data = append(data, build(ogg.PageHeader{Sequence: uint32(i + 2), Granule: int64(i+1) * 960}, bytes.Repeat([]byte{byte(i)}, 64)))
	}
	return head, tags, data
}

func waitForHeaders(t *testing.T, headers *relay.HeaderCache) {
	t.Helper()
	select {
	case <-headers.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("headers were never cached")
	}
}

func expectPages(t *testing.T, sub *relay.Subscription, want [][]byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i, w := range want {
		page, _, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		if !bytes.Equal(page, w) {
			t.Fatalf("page %d: unexpected bytes", i)
		}
	}
}
