package resp

import (
	"encoding"
	"fmt"
	"strconv"
	"time"
)

// Args converts command arguments to their wire bytes with AppendArg.
func Args(args ...any) [][]byte {
	out := make([][]byte, len(args))
	for i, arg := range args {
		out[i] = AppendArg(nil, arg)
	}
	return out
}

// AppendArg appends the byte form of one command argument to dst.
//
// Strings and byte slices are copied verbatim. Integers and floats use their
// shortest decimal form, booleans become "1" or "0" and nil becomes an empty
// string. Times use RFC 3339. encoding.BinaryMarshaler, encoding.TextMarshaler and fmt.Stringer
// are honored in that order; anything else is formatted with fmt.
func AppendArg(dst []byte, arg any) []byte {
	switch v := arg.(type) {
	case nil:
		return dst
	case string:
		return append(dst, v...)
	case []byte:
		return append(dst, v...)
	case int:
		return strconv.AppendInt(dst, int64(v), 10)
	case int8:
		return strconv.AppendInt(dst, int64(v), 10)
	case int16:
		return strconv.AppendInt(dst, int64(v), 10)
	case int32:
		return strconv.AppendInt(dst, int64(v), 10)
	case int64:
		return strconv.AppendInt(dst, v, 10)
	case uint:
		return strconv.AppendUint(dst, uint64(v), 10)
	case uint8:
		return strconv.AppendUint(dst, uint64(v), 10)
	case uint16:
		return strconv.AppendUint(dst, uint64(v), 10)
	case uint32:
		return strconv.AppendUint(dst, uint64(v), 10)
	case uint64:
		return strconv.AppendUint(dst, v, 10)
	case float32:
		return strconv.AppendFloat(dst, float64(v), 'f', -1, 32)
	case float64:
		return strconv.AppendFloat(dst, v, 'f', -1, 64)
	case bool:
		if v {
			return append(dst, '1')
		}
		return append(dst, '0')
	case time.Time:
		return v.AppendFormat(dst, time.RFC3339Nano)
	case encoding.BinaryMarshaler:
		b, err := v.MarshalBinary()
		if err != nil {
			return fmt.Append(dst, v)
		}
		return append(dst, b...)
	case encoding.TextMarshaler:
		b, err := v.MarshalText()
		if err != nil {
			return fmt.Append(dst, v)
		}
		return append(dst, b...)
	case fmt.Stringer:
		return append(dst, v.String()...)
	default:
		return fmt.Append(dst, v)
	}
}
