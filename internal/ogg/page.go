package ogg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	headerLen      = 27
	segCountOff    = 26
	granuleOff     = 6
	serialOff      = 14
	sequenceOff    = 18
	checksumOff    = 22
	markerLen      = 8
	maxSegments    = 255
	maxLacing      = 255
	capturePattern = "OggS"
)

// Header type flags.
const (
	FlagContinued byte = 0x01
	FlagBOS       byte = 0x02
	FlagEOS       byte = 0x04
)

var (
	// ErrFraming is the root of every malformed-page error.
	ErrFraming = errors.New("ogg: malformed page")

	ErrShortPage       = fmt.Errorf("%w: page too short", ErrFraming)
	ErrSegmentTable    = fmt.Errorf("%w: segment table exceeds page", ErrFraming)
	ErrCapturePattern  = fmt.Errorf("%w: missing OggS capture pattern", ErrFraming)
	ErrVersion         = fmt.Errorf("%w: unsupported stream structure version", ErrFraming)
	ErrChecksum        = fmt.Errorf("%w: checksum mismatch", ErrFraming)
	ErrPayloadTooLarge = errors.New("ogg: payload does not fit in one page")
)

// Kind is the classification of a page.
type Kind int

const (
	KindData Kind = iota
	KindHeader
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	default:
		return "data"
	}
}

var (
	opusHead = []byte("OpusHead")
	opusTags = []byte("OpusTags")
)

// Classify reports whether page is an Opus header page (identification or
// comment) or a data page. It only reads the fixed preamble and the first
// eight payload bytes, and returns an error wrapping ErrFraming instead of
// panicking on truncated input.
func Classify(page []byte) (Kind, error) {
	if len(page) < headerLen {
		return KindData, ErrShortPage
	}

	payload := headerLen + int(page[segCountOff])
	if payload > len(page) {
		return KindData, ErrSegmentTable
	}
	if payload+markerLen > len(page) {
		return KindData, ErrShortPage
	}

	marker := page[payload : payload+markerLen]
	if string(marker) == string(opusHead) || string(marker) == string(opusTags) {
		return KindHeader, nil
	}
	return KindData, nil
}

// IsHeader is Classify without the error: malformed pages are not headers.
func IsHeader(page []byte) bool {
	kind, err := Classify(page)
	return err == nil && kind == KindHeader
}

// Granule returns the absolute granule position stored in the page header.
func Granule(page []byte) (int64, error) {
	if len(page) < headerLen {
		return 0, ErrShortPage
	}
	return int64(binary.LittleEndian.Uint64(page[granuleOff:])), nil
}

// PageHeader holds the fields BuildPage writes into a page preamble.
type PageHeader struct {
	Flags    byte
	Granule  int64
	Serial   uint32
	Sequence uint32
}

// BuildPage frames payload as a single packet in one page and fills in the
// checksum.
func BuildPage(h PageHeader, payload []byte) ([]byte, error) {
	segments := len(payload)/maxLacing + 1
	if segments > maxSegments {
		return nil, ErrPayloadTooLarge
	}

	page := make([]byte, headerLen+segments+len(payload))
	copy(page, capturePattern)
	page[5] = h.Flags
	binary.LittleEndian.PutUint64(page[granuleOff:], uint64(h.Granule))
	binary.LittleEndian.PutUint32(page[serialOff:], h.Serial)
	binary.LittleEndian.PutUint32(page[sequenceOff:], h.Sequence)
	page[segCountOff] = byte(segments)

	table := page[headerLen : headerLen+segments]
	for i := 0; i < segments-1; i++ {
		table[i] = maxLacing
	}
	table[segments-1] = byte(len(payload) % maxLacing)

	copy(page[headerLen+segments:], payload)
	binary.LittleEndian.PutUint32(page[checksumOff:], Checksum(page))
	return page, nil
}
