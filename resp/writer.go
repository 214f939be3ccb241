package resp

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"sync"
)

var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 256))
	},
}

// Buffers grown past this size are not returned to the pool.
const maxPooledBuffer = 64 * 1024

// WriteCommand serializes one command to w as an array of bulk strings:
//
//	*<1+len(args)>\r\n$<len(name)>\r\n<name>\r\n$<len(arg)>\r\n<arg>\r\n...
//
// Arguments are written verbatim; lengths are byte counts. Nothing is
// flushed when w is a *bufio.Writer.
func WriteCommand(w io.Writer, name string, args [][]byte) error {
	if bw, ok := w.(*bufio.Writer); ok {
		return writeCommandBuffered(bw, name, args)
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Write(AppendCommand(buf.AvailableBuffer(), name, args))
	_, err := w.Write(buf.Bytes())
	if buf.Cap() <= maxPooledBuffer {
		buf.Reset()
		bufferPool.Put(buf)
	}
	return err
}

func writeCommandBuffered(bw *bufio.Writer, name string, args [][]byte) error {
	writeHeader(bw, MarkerArray, len(args)+1)
	writeHeader(bw, MarkerBulk, len(name))
	bw.WriteString(name)
	bw.WriteString(CRLF)

	for _, arg := range args {
		writeHeader(bw, MarkerBulk, len(arg))
		bw.Write(arg)
		_, err := bw.WriteString(CRLF)
		if err != nil {
			return err
		}
	}

	// bufio.Writer keeps the first error
	_, err := bw.WriteString("")
	return err
}

func writeHeader(bw *bufio.Writer, marker byte, n int) {
	bw.WriteByte(marker)
	bw.Write(strconv.AppendInt(bw.AvailableBuffer(), int64(n), 10))
	bw.WriteString(CRLF)
}

// AppendCommand appends the wire encoding of a command to dst.
func AppendCommand(dst []byte, name string, args [][]byte) []byte {
	dst = appendHeader(dst, MarkerArray, len(args)+1)
	dst = appendHeader(dst, MarkerBulk, len(name))
	dst = append(dst, name...)
	dst = append(dst, CRLF...)
	for _, arg := range args {
		dst = appendHeader(dst, MarkerBulk, len(arg))
		dst = append(dst, arg...)
		dst = append(dst, CRLF...)
	}
	return dst
}

// EncodeCommand returns the wire encoding of a command.
func EncodeCommand(name string, args ...[]byte) []byte {
	return AppendCommand(nil, name, args)
}

func appendHeader(dst []byte, marker byte, n int) []byte {
	dst = append(dst, marker)
	dst = strconv.AppendInt(dst, int64(n), 10)
	return append(dst, CRLF...)
}
