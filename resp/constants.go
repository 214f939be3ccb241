package resp

// Reply type markers.
const (
	MarkerSimpleString = '+'
	MarkerError        = '-'
	MarkerInteger      = ':'
	MarkerBulk         = '$'
	MarkerArray        = '*'
)

// CRLF terminates every line of the protocol.
const CRLF = "\r\n"

// MaxBulkSize is the largest bulk payload ReadReply accepts. It matches the
// default proto-max-bulk-len of the reference server.
const MaxBulkSize = 512 * 1024 * 1024

// MaxArrayLen bounds the element count accepted for a single array.
const MaxArrayLen = 1024 * 1024 * 1024

var crlfBytes = []byte(CRLF)
