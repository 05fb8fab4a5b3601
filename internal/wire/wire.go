// Package wire implements the C6 transport framing: a hand-rolled
// length-prefixed protocol over a plain net.Conn rather than generated
// gRPC stubs.
//
// The spec calls for "length-prefixed binary framing" without mandating
// a specific RPC stack. This environment has no protobuf compiler
// available, and hand-written .pb.go stubs behind a replace directive
// would be exactly the kind of fabricated dependency the exercise rules
// out — so the wire format here is a 4-byte big-endian length prefix
// followed by a JSON-encoded Envelope (see protocol.go), which is both
// inspectable and trivially serializable with encoding/json alone.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize mirrors the grpc.max_receive_message_length config
// key's role in the original stack: an upper bound on a single frame so
// one oversized payload can't exhaust memory on either side.
const DefaultMaxFrameSize = 4 << 20 // 4 MiB

// ErrFrameTooLarge is returned by ReadFrame when the declared length
// exceeds maxSize.
type ErrFrameTooLarge struct {
	Declared uint32
	Max      uint32
}

func (e *ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("wire: frame of %d bytes exceeds max %d", e.Declared, e.Max)
}

// WriteFrame writes a 4-byte big-endian length prefix followed by
// payload to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r, rejecting any frame
// whose declared length exceeds maxSize before allocating a buffer for
// it.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if maxSize > 0 && size > maxSize {
		return nil, &ErrFrameTooLarge{Declared: size, Max: maxSize}
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// NewBufferedReader wraps r for frame reads off a net.Conn without an
// extra copy per small read — the teacher's connection handling does the
// same around its SSE decode loop.
func NewBufferedReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 32*1024)
}
