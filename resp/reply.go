package resp

import (
	"strconv"
)

// Kind identifies the active variant of a Reply.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInteger
	KindSimpleString
	KindBulk
	KindBulkNil
	KindArray
	KindArrayNil
	KindError
)

var kindNames = [...]string{
	KindInvalid:      "invalid",
	KindInteger:      "integer",
	KindSimpleString: "simple-string",
	KindBulk:         "bulk",
	KindBulkNil:      "bulk-nil",
	KindArray:        "array",
	KindArrayNil:     "array-nil",
	KindError:        "error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Reply is one decoded server reply.
//
// Exactly one variant is active, selected by Kind:
//   - KindInteger: Int
//   - KindSimpleString, KindBulk, KindError: Data
//   - KindArray: Array
//   - KindBulkNil, KindArrayNil: no payload
//
// ReadReply never produces KindError; it returns *ErrorReply instead. Error
// values only appear where a caller asked for per-command errors to be
// collected, such as pipeline results.
type Reply struct {
	Kind  Kind
	Int   int64
	Data  []byte
	Array []Reply
}

// OK is the "+OK" status reply.
var OK = SimpleString("OK")

// Integer returns an integer reply.
func Integer(n int64) Reply {
	return Reply{Kind: KindInteger, Int: n}
}

// SimpleString returns a status reply.
func SimpleString(s string) Reply {
	return Reply{Kind: KindSimpleString, Data: []byte(s)}
}

// Bulk returns a bulk string reply holding b.
func Bulk(b []byte) Reply {
	if b == nil {
		b = []byte{}
	}
	return Reply{Kind: KindBulk, Data: b}
}

// BulkString returns a bulk string reply holding s.
func BulkString(s string) Reply {
	return Bulk([]byte(s))
}

// BulkNil returns the nil bulk string reply ("$-1").
func BulkNil() Reply {
	return Reply{Kind: KindBulkNil}
}

// Array returns an array reply.
func Array(elems ...Reply) Reply {
	if elems == nil {
		elems = []Reply{}
	}
	return Reply{Kind: KindArray, Array: elems}
}

// ArrayNil returns the nil array reply ("*-1").
func ArrayNil() Reply {
	return Reply{Kind: KindArrayNil}
}

// ErrorValue returns an error reply held as a value.
func ErrorValue(message string) Reply {
	return Reply{Kind: KindError, Data: []byte(message)}
}

// IsNil reports whether r is a nil bulk or nil array.
func (r Reply) IsNil() bool {
	return r.Kind == KindBulkNil || r.Kind == KindArrayNil
}

// Bytes returns the payload of a string-like reply. Integers are formatted
// in decimal. Other kinds return nil.
func (r Reply) Bytes() []byte {
	switch r.Kind {
	case KindSimpleString, KindBulk, KindError:
		return r.Data
	case KindInteger:
		return strconv.AppendInt(nil, r.Int, 10)
	default:
		return nil
	}
}

// Text returns the payload of a string-like reply as a string.
func (r Reply) Text() string {
	return string(r.Bytes())
}

// Int64 returns the value of an integer reply. Bulk and simple strings
// holding a decimal number are parsed.
func (r Reply) Int64() (int64, error) {
	switch r.Kind {
	case KindInteger:
		return r.Int, nil
	case KindSimpleString, KindBulk:
		n, err := strconv.ParseInt(string(r.Data), 10, 64)
		if err != nil {
			return 0, err
		}
		return n, nil
	default:
		return 0, &TypeError{Want: KindInteger, Got: r.Kind}
	}
}

// Err returns the error held by a KindError reply, or nil.
func (r Reply) Err() error {
	if r.Kind != KindError {
		return nil
	}
	return &ErrorReply{Message: string(r.Data)}
}

// String renders the reply for humans, in the format of the reference
// command-line client.
func (r Reply) String() string {
	return string(r.appendHuman(nil, ""))
}

func (r Reply) appendHuman(dst []byte, indent string) []byte {
	switch r.Kind {
	case KindInteger:
		dst = append(dst, "(integer) "...)
		return strconv.AppendInt(dst, r.Int, 10)
	case KindSimpleString:
		return append(dst, r.Data...)
	case KindBulk:
		return strconv.AppendQuote(dst, string(r.Data))
	case KindBulkNil, KindArrayNil:
		return append(dst, "(nil)"...)
	case KindError:
		dst = append(dst, "(error) "...)
		return append(dst, r.Data...)
	case KindArray:
		if len(r.Array) == 0 {
			return append(dst, "(empty array)"...)
		}
		width := len(strconv.Itoa(len(r.Array)))
		for i, elem := range r.Array {
			if i > 0 {
				dst = append(dst, '\n')
				dst = append(dst, indent...)
			}
			prefix := strconv.Itoa(i + 1)
			for range width - len(prefix) {
				dst = append(dst, ' ')
			}
			dst = append(dst, prefix...)
			dst = append(dst, ") "...)
			dst = elem.appendHuman(dst, indent+spaces(width+2))
		}
		return dst
	default:
		return append(dst, "(invalid)"...)
	}
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
