package snaketongs

import "encoding/binary"

// opcode is a single wire byte identifying a command or reply. The set is
// deliberately small and arithmetic-free: everything numeric beyond int/str/
// bytes/tuple construction is expressed as a lookup-then-call against the
// remote operator module (see operator.go).
type opcode byte

const (
	opMakeInt      opcode = 'I'
	opMakeBytes    opcode = 'B'
	opMakeStr      opcode = 'S'
	opMakeTuple    opcode = 'T'
	opGlobal       opcode = 'G'
	opWrap         opcode = 'R'
	opCall         opcode = 'C'
	opStarcall     opcode = 'X'
	opLambda       opcode = 'L'
	opDup          opcode = 'D'
	opGetInt       opcode = 'i'
	opGetBytes     opcode = 'b'
	opDrop         opcode = '~'
	opReturn       opcode = 'r'
	opException    opcode = 'e'
	opInboundCall  opcode = 'c'
)

func (op opcode) String() string {
	switch op {
	case opMakeInt:
		return "make-int"
	case opMakeBytes:
		return "make-bytes"
	case opMakeStr:
		return "make-str"
	case opMakeTuple:
		return "make-tuple"
	case opGlobal:
		return "global"
	case opWrap:
		return "wrap"
	case opCall:
		return "call"
	case opStarcall:
		return "starcall"
	case opLambda:
		return "lambda"
	case opDup:
		return "dup"
	case opGetInt:
		return "get-int"
	case opGetBytes:
		return "get-bytes"
	case opDrop:
		return "drop"
	case opReturn:
		return "return"
	case opException:
		return "exception"
	case opInboundCall:
		return "inbound-call"
	default:
		return "unknown"
	}
}

// remoteIndex is the wire-level token identifying a value on the remote
// side. It is signed but the sign carries no meaning to the transport; it is
// an opaque token that happens to round-trip through two's-complement
// packing.
type remoteIndex int64

// terminationSentinel is the magic argument accompanying the final `r` frame
// sent by the host during a clean shutdown handshake (§4.8, §9 open
// question: the remote side must treat any `r` outside of an active command
// as termination regardless of payload).
const terminationSentinel remoteIndex = 0xD1E_A112EAD1

// codec packs and unpacks the fixed-width integers and opcode/argument
// headers that make up every frame. The width is negotiated once at Bridge
// construction time and must match what the subprocess was told on its
// command line.
type codec struct {
	width int // bytes per packed integer; 4 or 8 in practice
}

func newCodec(width int) codec {
	return codec{width: width}
}

// putInt packs v into the codec's fixed width, little-endian, two's
// complement.
func (c codec) putInt(buf []byte, v int64) {
	switch c.width {
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	case 8:
		binary.LittleEndian.PutUint64(buf, uint64(v))
	default:
		panic("snaketongs: unsupported integer width")
	}
}

// getInt unpacks a codec-width little-endian two's-complement integer.
func (c codec) getInt(buf []byte) int64 {
	switch c.width {
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(buf)))
	case 8:
		return int64(binary.LittleEndian.Uint64(buf))
	default:
		panic("snaketongs: unsupported integer width")
	}
}

// encodeHeader renders a `op-byte + packed-int` header, the fixed prefix of
// every frame in both directions.
func (c codec) encodeHeader(op opcode, arg int64) []byte {
	buf := make([]byte, 1+c.width)
	buf[0] = byte(op)
	c.putInt(buf[1:], arg)
	return buf
}
