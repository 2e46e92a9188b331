package wire

import (
	"bufio"
	"fmt"
	"io"

	"github.com/bonghwa-relay/gateway/internal/apperr"
)

// Deframer consumes a byte stream and emits (Header, body) records in
// order. It holds at most one in-flight partial frame (the header+body it is
// currently assembling) — there is no separate resynchronization buffer.
//
// On magic-number mismatch or an oversize body length, the deframer drops
// the bad header together with every byte it has already buffered, and
// resumes framing with the next bytes read from the stream. It does not scan
// the stream byte-by-byte looking for the next valid magic number.
type Deframer struct {
	r             *bufio.Reader
	magicNumber   uint32
	maxBodyLength uint32
	onFramingErr  func(error)
}

// NewDeframer wraps r. onFramingErr, if non-nil, is invoked for every framing
// error encountered (magic mismatch or oversize length) before the deframer
// resumes; it is the hook the CS session driver uses to log the event
// without tearing down the connection.
func NewDeframer(r io.Reader, magicNumber uint32, maxBodyLength uint32, onFramingErr func(error)) *Deframer {
	return &Deframer{
		r:             bufio.NewReaderSize(r, 64*1024),
		magicNumber:   magicNumber,
		maxBodyLength: maxBodyLength,
		onFramingErr:  onFramingErr,
	}
}

// Next blocks until a complete, valid frame is available and returns it.
// A non-framing error (EOF, reset connection, etc.) is returned as-is and
// the deframer must not be reused afterward — the caller should destroy the
// underlying connection.
func (d *Deframer) Next() (Header, []byte, error) {
	for {
		hdrBuf := make([]byte, HeaderSize)
		if _, err := io.ReadFull(d.r, hdrBuf); err != nil {
			return Header{}, nil, fmt.Errorf("wire: read header: %w", err)
		}

		h, err := DecodeHeader(hdrBuf)
		if err != nil {
			// Unreachable given hdrBuf is always HeaderSize, kept for safety.
			return Header{}, nil, err
		}

		if h.MagicNumber != d.magicNumber {
			d.reportFraming(apperr.New(apperr.KindFraming, "wire: bad magic number %#x (want %#x)", h.MagicNumber, d.magicNumber))
			d.r.Discard(d.r.Buffered())
			continue
		}
		if h.DataLength > d.maxBodyLength {
			d.reportFraming(apperr.New(apperr.KindFraming, "wire: body length %d exceeds max %d", h.DataLength, d.maxBodyLength))
			d.r.Discard(d.r.Buffered())
			continue
		}

		body := make([]byte, h.DataLength)
		if h.DataLength > 0 {
			if _, err := io.ReadFull(d.r, body); err != nil {
				return Header{}, nil, fmt.Errorf("wire: read body: %w", err)
			}
		}

		return h, body, nil
	}
}

func (d *Deframer) reportFraming(err error) {
	if d.onFramingErr != nil {
		d.onFramingErr(err)
	}
}
