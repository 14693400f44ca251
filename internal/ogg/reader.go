package ogg

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// PageReader splits an Ogg byte stream into raw pages.
type PageReader struct {
	r *bufio.Reader
}

// NewPageReader returns a PageReader that reads from r.
func NewPageReader(r io.Reader) *PageReader {
	return &PageReader{r: bufio.NewReader(r)}
}

// ReadPage returns the next complete page, preamble and payload included.
// It returns io.EOF at a clean page boundary and io.ErrUnexpectedEOF when the
// stream stops mid-page. Pages with a bad capture pattern, version or checksum
// return an error wrapping ErrFraming.
func (pr *PageReader) ReadPage() ([]byte, error) {
	var head [headerLen]byte
	if _, err := io.ReadFull(pr.r, head[:]); err != nil {
		return nil, err
	}
	if string(head[:4]) != capturePattern {
		return nil, ErrCapturePattern
	}
	if head[4] != 0 {
		return nil, ErrVersion
	}

	segments := int(head[segCountOff])
	table := make([]byte, segments)
	if _, err := io.ReadFull(pr.r, table); err != nil {
		return nil, unexpected(err)
	}

	size := 0
	for _, lacing := range table {
		size += int(lacing)
	}

	page := make([]byte, headerLen+segments+size)
	copy(page, head[:])
	copy(page[headerLen:], table)
	if _, err := io.ReadFull(pr.r, page[headerLen+segments:]); err != nil {
		return nil, unexpected(err)
	}

	if binary.LittleEndian.Uint32(page[checksumOff:]) != Checksum(page) {
		return nil, ErrChecksum
	}
	return page, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
