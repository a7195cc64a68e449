package telemetry

import (
	"bufio"
	"errors"
	"fmt"
)

// ErrBatchTooLarge is returned by ReadBatch when no terminator arrives within
// the size limit.
var ErrBatchTooLarge = errors.New("batch exceeds size limit")

// ReadBatch reads up to and including the terminator and returns the bytes
// before it. maxBytes bounds the payload; <= 0 means unbounded. Any read
// error before the terminator (EOF, deadline) is returned as is.
func ReadBatch(r *bufio.Reader, maxBytes int) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice(Terminator)
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			payload := buf[:len(buf)-1]
			if maxBytes > 0 && len(payload) > maxBytes {
				return nil, fmt.Errorf("%w (%d bytes)", ErrBatchTooLarge, len(payload))
			}
			return payload, nil
		case errors.Is(err, bufio.ErrBufferFull):
			if maxBytes > 0 && len(buf) > maxBytes {
				return nil, fmt.Errorf("%w (>%d bytes)", ErrBatchTooLarge, maxBytes)
			}
		default:
			return nil, err
		}
	}
}
