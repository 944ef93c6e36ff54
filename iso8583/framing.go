package iso8583

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// FrameConfig describes the length-prefix framing in front of a payload,
// per channel configuration: a 2- or 4-byte header in ASCII digits,
// BCD, or big-endian binary, whose value is the length of the remainder
// (optionally including the header itself).
type FrameConfig struct {
	HeaderBytes    int // 2 or 4
	Encoding       DigitEncoding
	IncludesHeader bool // true if the length value counts the header bytes too
}

// EncodeFrame prepends the length header for payload.
func (fc FrameConfig) EncodeFrame(payload []byte) ([]byte, error) {
	n := len(payload)
	if fc.IncludesHeader {
		n += fc.HeaderBytes
	}
	header, err := fc.encodeLength(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	out = append(out, payload...)
	return out, nil
}

// ReadFrame reads one frame from data, returning the payload and the
// total number of bytes (header + payload) consumed.
func (fc FrameConfig) ReadFrame(data []byte) (payload []byte, consumed int, err error) {
	if len(data) < fc.HeaderBytes {
		return nil, 0, newFieldError("header", -1, "insufficient bytes for length header")
	}
	n, err := fc.decodeLength(data[:fc.HeaderBytes])
	if err != nil {
		e := newFieldError("header", -1, err.Error())
		e.BytesConsumed = 0
		e.Remaining = data
		return nil, 0, e
	}
	if fc.IncludesHeader {
		n -= fc.HeaderBytes
	}
	if n < 0 || fc.HeaderBytes+n > len(data) {
		e := newFieldError("header", -1, fmt.Sprintf("declared length %d exceeds available %d bytes", n, len(data)-fc.HeaderBytes))
		e.BytesConsumed = fc.HeaderBytes
		e.Remaining = data[fc.HeaderBytes:]
		return nil, 0, e
	}
	return data[fc.HeaderBytes : fc.HeaderBytes+n], fc.HeaderBytes + n, nil
}

func (fc FrameConfig) encodeLength(n int) ([]byte, error) {
	switch fc.Encoding {
	case ASCIIDigits:
		s := strconv.Itoa(n)
		for len(s) < fc.HeaderBytes {
			s = "0" + s
		}
		if len(s) != fc.HeaderBytes {
			return nil, fmt.Errorf("iso8583: length %d does not fit in %d ASCII digits", n, fc.HeaderBytes)
		}
		return []byte(s), nil
	case BCDDigits:
		digits := fmt.Sprintf("%0*d", fc.HeaderBytes*2, n)
		out := make([]byte, fc.HeaderBytes)
		for i := 0; i < fc.HeaderBytes; i++ {
			hi := digits[2*i] - '0'
			lo := digits[2*i+1] - '0'
			out[i] = hi<<4 | lo
		}
		return out, nil
	case BinaryDigits:
		out := make([]byte, fc.HeaderBytes)
		switch fc.HeaderBytes {
		case 2:
			binary.BigEndian.PutUint16(out, uint16(n))
		case 4:
			binary.BigEndian.PutUint32(out, uint32(n))
		default:
			return nil, fmt.Errorf("iso8583: unsupported binary header width %d", fc.HeaderBytes)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("iso8583: unknown digit encoding %d", fc.Encoding)
	}
}

func (fc FrameConfig) decodeLength(header []byte) (int, error) {
	switch fc.Encoding {
	case ASCIIDigits:
		n, err := strconv.Atoi(string(header))
		if err != nil {
			return 0, fmt.Errorf("non-numeric ASCII length header %q", header)
		}
		return n, nil
	case BCDDigits:
		n := 0
		for _, b := range header {
			n = n*100 + int(b>>4)*10 + int(b&0x0f)
		}
		return n, nil
	case BinaryDigits:
		switch fc.HeaderBytes {
		case 2:
			return int(binary.BigEndian.Uint16(header)), nil
		case 4:
			return int(binary.BigEndian.Uint32(header)), nil
		default:
			return 0, fmt.Errorf("unsupported binary header width %d", fc.HeaderBytes)
		}
	default:
		return 0, fmt.Errorf("unknown digit encoding %d", fc.Encoding)
	}
}

// variable-length field prefix helpers (LL/LLL/LLLL), always ASCII digits
// per common ISO-8583 practice regardless of the outer frame encoding.

func varPrefixWidth(kind LengthKind) int {
	switch kind {
	case LLVar:
		return 2
	case LLLVar:
		return 3
	case LLLLVar:
		return 4
	default:
		return 0
	}
}

func encodeVarPrefix(kind LengthKind, n int) (string, error) {
	w := varPrefixWidth(kind)
	s := strconv.Itoa(n)
	if len(s) > w {
		return "", fmt.Errorf("iso8583: value length %d does not fit in %s prefix", n, kindName(kind))
	}
	for len(s) < w {
		s = "0" + s
	}
	return s, nil
}

func kindName(kind LengthKind) string {
	switch kind {
	case LLVar:
		return "LL"
	case LLLVar:
		return "LLL"
	case LLLLVar:
		return "LLLL"
	default:
		return "fixed"
	}
}
