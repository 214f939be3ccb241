package resp

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

// MaxCommandArgs bounds the argument count accepted by ReadCommand.
const MaxCommandArgs = 1024 * 1024

// ReadCommand reads one client request from r and returns its arguments,
// the command name first.
//
// Both the array-of-bulk-strings form and the inline form ("PING\r\n") are
// accepted.
func ReadCommand(r *bufio.Reader) ([][]byte, error) {
	b, err := r.Peek(1)
	if err != nil {
		return nil, readError("reading command", err)
	}

	if b[0] != MarkerArray {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		fields := bytes.Fields(line)
		args := make([][]byte, len(fields))
		for i, f := range fields {
			args[i] = bytes.Clone(f)
		}
		return args, nil
	}

	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	count, err := parseInt(line[1:])
	if err != nil || count < 0 || count > MaxCommandArgs {
		return nil, invalidState("invalid command length %q", line)
	}

	args := make([][]byte, 0, count)
	for range count {
		b, err := r.Peek(1)
		if err != nil {
			return nil, readError("reading argument", err)
		}
		if b[0] != MarkerBulk {
			return nil, invalidState("expected bulk argument, got %q", b[0])
		}
		bulk, err := readBulk(r)
		if err != nil {
			return nil, err
		}
		if bulk.Kind != KindBulk {
			return nil, invalidState("nil argument in command")
		}
		args = append(args, bulk.Data)
	}
	return args, nil
}

// WriteReply encodes reply the way a server does and writes it to w.
// KindError replies are written as error lines.
func WriteReply(w io.Writer, reply Reply) error {
	_, err := w.Write(AppendReply(nil, reply))
	return err
}

// AppendReply appends the wire encoding of reply to dst.
func AppendReply(dst []byte, reply Reply) []byte {
	switch reply.Kind {
	case KindInteger:
		dst = append(dst, MarkerInteger)
		dst = strconv.AppendInt(dst, reply.Int, 10)
		return append(dst, CRLF...)
	case KindSimpleString:
		dst = append(dst, MarkerSimpleString)
		dst = append(dst, reply.Data...)
		return append(dst, CRLF...)
	case KindError:
		dst = append(dst, MarkerError)
		dst = append(dst, reply.Data...)
		return append(dst, CRLF...)
	case KindBulk:
		dst = appendHeader(dst, MarkerBulk, len(reply.Data))
		dst = append(dst, reply.Data...)
		return append(dst, CRLF...)
	case KindBulkNil:
		return append(dst, "$-1\r\n"...)
	case KindArray:
		dst = appendHeader(dst, MarkerArray, len(reply.Array))
		for _, elem := range reply.Array {
			dst = AppendReply(dst, elem)
		}
		return dst
	case KindArrayNil:
		return append(dst, "*-1\r\n"...)
	default:
		return dst
	}
}
