package resp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"math"
	"strconv"
)

// ReadReply reads and decodes a single reply from r.
//
// Dispatch is on the first byte:
//   - ':' Integer
//   - '+' SimpleString
//   - '$' Bulk, or BulkNil for a negative length
//   - '*' Array, or ArrayNil for a length of -1
//   - '-' returned as *ErrorReply
//
// An error line nested in an array is returned as *ErrorReply too. The
// remaining elements of the array are still consumed so the stream stays
// aligned on the next reply.
//
// Returned errors:
//   - *ErrorReply: the server rejected the command, the connection is fine
//   - *ProtocolError wrapping ErrInvalidState or ErrEOF: close the connection
//   - *ConnectionError: transport failure, close the connection
func ReadReply(r *bufio.Reader) (Reply, error) {
	b, err := r.Peek(1)
	if err != nil {
		return Reply{}, readError("reading reply marker", err)
	}

	switch b[0] {
	case MarkerInteger:
		line, err := readLine(r)
		if err != nil {
			return Reply{}, err
		}
		n, err := parseInt(line[1:])
		if err != nil {
			return Reply{}, invalidState("invalid integer reply %q", line)
		}
		return Integer(n), nil

	case MarkerSimpleString:
		line, err := readLine(r)
		if err != nil {
			return Reply{}, err
		}
		return SimpleString(string(line[1:])), nil

	case MarkerError:
		line, err := readLine(r)
		if err != nil {
			return Reply{}, err
		}
		return Reply{}, &ErrorReply{Message: string(line[1:])}

	case MarkerBulk:
		return readBulk(r)

	case MarkerArray:
		return readArray(r)

	default:
		return Reply{}, invalidState("unknown reply type marker %q", b[0])
	}
}

func readBulk(r *bufio.Reader) (Reply, error) {
	line, err := readLine(r)
	if err != nil {
		return Reply{}, err
	}

	size, err := parseInt(line[1:])
	if err != nil {
		return Reply{}, invalidState("invalid bulk length %q", line)
	}
	if size < 0 {
		return BulkNil(), nil
	}
	if size > MaxBulkSize {
		return Reply{}, invalidState("bulk length %d exceeds limit", size)
	}

	// Payload and CRLF in a single read
	data := make([]byte, size+2)
	if _, err := io.ReadFull(r, data); err != nil {
		return Reply{}, readError("reading bulk payload", err)
	}
	if data[size] != '\r' || data[size+1] != '\n' {
		return Reply{}, invalidState("bulk payload not terminated by CRLF")
	}

	return Reply{Kind: KindBulk, Data: data[:size]}, nil
}

func readArray(r *bufio.Reader) (Reply, error) {
	line, err := readLine(r)
	if err != nil {
		return Reply{}, err
	}

	count, err := parseInt(line[1:])
	if err != nil {
		return Reply{}, invalidState("invalid array length %q", line)
	}
	if count == -1 {
		return ArrayNil(), nil
	}
	if count < -1 || count > MaxArrayLen {
		return Reply{}, invalidState("invalid array length %d", count)
	}

	elems := make([]Reply, 0, min(count, 1024))
	var replyErr *ErrorReply
	for range count {
		elem, err := ReadReply(r)
		if err != nil {
			var er *ErrorReply
			if !errors.As(err, &er) {
				return Reply{}, err
			}
			if replyErr == nil {
				replyErr = er
			}
			continue
		}
		elems = append(elems, elem)
	}
	if replyErr != nil {
		return Reply{}, replyErr
	}

	return Reply{Kind: KindArray, Array: elems}, nil
}

// readLine returns one line including its marker, without the CRLF. The
// returned slice is only valid until the next read on r.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// Longer than the buffer, fall back to an allocating read
		head := bytes.Clone(line)
		var rest []byte
		rest, err = r.ReadBytes('\n')
		line = append(head, rest...)
	}
	if err != nil {
		return nil, readError("reading line", err)
	}

	if len(line) < 3 || line[len(line)-2] != '\r' {
		return nil, invalidState("line not terminated by CRLF")
	}

	return line[:len(line)-2], nil
}

func readError(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &ProtocolError{Message: op, Err: ErrEOF}
	}
	return &ConnectionError{Op: "read", Err: err}
}

// parseInt parses a signed decimal without allocating. It accumulates on
// the negative side so math.MinInt64 is representable.
func parseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	neg := false
	if b[0] == '-' {
		neg = true
		b = b[1:]
		if len(b) == 0 {
			return 0, strconv.ErrSyntax
		}
	}

	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
		d := int64(c - '0')
		if n < (math.MinInt64+d)/10 {
			return 0, strconv.ErrRange
		}
		n = n*10 - d
	}

	if !neg {
		if n == math.MinInt64 {
			return 0, strconv.ErrRange
		}
		n = -n
	}
	return n, nil
}
