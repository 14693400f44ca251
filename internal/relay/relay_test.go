package relay

import (
	"bytes"
	"testing"

	"github.com/dgnsrekt/tau-tower/internal/ogg"
)

// testPages builds a small Ogg/Opus stream: two header pages followed by
// count data pages.
func testPages(t *testing.T, count int) (head, tags []byte, data [][]byte) {
	t.Helper()

	build := func(h ogg.PageHeader, payload []byte) []byte {
		page, err := ogg.BuildPage(h, payload)
		if err != nil {
			t.Fatalf("BuildPage failed: %v", err)
		}
		return page
	}

	head = build(ogg.PageHeader{Flags: ogg.FlagBOS, Serial: 1}, append([]byte("OpusHead"), 1, 2, 0, 0, 0x80, 0xbb, 0, 0, 0, 0, 0))
	tags = build(ogg.PageHeader{Serial: 1, Sequence: 1}, append([]byte("OpusTags"), 0, 0, 0, 0, 0, 0, 0, 0))
	for i := 0; i < count; i++ {
		payload := bytes.Repeat([]byte{byte(i + 1)}, 40+i)
		data = append(data, build(ogg.PageHeader{Serial: 1, Sequence: uint32(i + 2), Granule: int64(i+1) * 960}, payload))
	}
	return head, tags, data
}
