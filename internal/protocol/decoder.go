package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxFrameSize bounds a single frame so a misbehaving peer cannot grow the
// read buffer without limit.
const maxFrameSize = 64 * 1024

// Decoder assembles complete frames from a byte stream. TCP reads may split
// or coalesce frames arbitrarily; the decoder buffers until it has a full
// newline-terminated frame before handing it to Decode.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096)}
}

// ReadLine returns the next raw line with the delimiter stripped. Used for
// the handshake, where the first frame is a bare nickname rather than JSON.
// The size cap is enforced while the line accumulates, so a stream that
// never sends a delimiter fails fast instead of buffering without bound.
func (d *Decoder) ReadLine() (string, error) {
	var line []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxFrameSize {
			return "", fmt.Errorf("frame exceeds %d bytes", maxFrameSize)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(line), "\r\n"), nil
	}
}

// Next returns the next decoded frame. A *ParseError leaves the stream
// usable; any other error is fatal for the connection.
func (d *Decoder) Next() (Frame, error) {
	line, err := d.ReadLine()
	if err != nil {
		return Frame{}, err
	}
	return Decode(line)
}
