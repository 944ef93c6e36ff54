package iso8583

import (
	"fmt"
)

// Codec is the message codec façade: Encode/Decode are the only
// operations an upstream caller needs; the schema and framing details are
// opaque beyond the contract they present.
type Codec struct {
	Schema *Schema
	Frame  FrameConfig
}

// NewCodec builds a Codec for the given schema and frame configuration.
func NewCodec(schema *Schema, frame FrameConfig) *Codec {
	return &Codec{Schema: schema, Frame: frame}
}

// Encode serializes msg to a length-framed byte slice.
func (c *Codec) Encode(msg *Message) ([]byte, error) {
	payload := make([]byte, 0, 64)
	payload = append(payload, []byte(padMTI(msg.MTI))...)

	bm := NewBitmap(c.bitmapLen())
	tags := c.Schema.SortedTags()
	if c.Schema.HasBitmap {
		for _, t := range tags {
			if t <= 0 {
				continue
			}
			if _, ok := msg.Field(t); ok {
				bm.Set(t)
			}
		}
		payload = append(payload, bm.Encode()...)
	}

	for _, t := range tags {
		v, ok := msg.Field(t)
		if !ok {
			continue
		}
		fd := c.Schema.Fields[t]
		enc, err := encodeField(fd, v)
		if err != nil {
			return nil, fmt.Errorf("iso8583: encode field %d: %w", t, err)
		}
		payload = append(payload, enc...)
	}

	return c.Frame.EncodeFrame(payload)
}

// Decode consumes one length-framed message from data.
func (c *Codec) Decode(data []byte) (*Message, error) {
	payload, _, err := c.Frame.ReadFrame(data)
	if err != nil {
		return nil, err
	}
	if len(payload) < 4 {
		return nil, &ParseError{Section: "mti", Field: -1, BytesConsumed: 0, Reason: "payload shorter than 4-byte MTI", Remaining: payload}
	}

	mti := string(payload[:4])
	rest := payload[4:]
	consumed := 4
	parsed := []int{}

	var bm *Bitmap
	if c.Schema.HasBitmap {
		var n int
		bm, n, err = DecodeBitmap(rest)
		if err != nil {
			pe := err.(*ParseError)
			pe.Section = "bitmap"
			pe.BytesConsumed = consumed
			pe.Parsed = parsed
			pe.Remaining = rest
			return nil, pe
		}
		rest = rest[n:]
		consumed += n
		for bit := 2; bit < len(bm.bits); bit++ {
			if _, defined := c.Schema.Fields[bit]; bm.IsSet(bit) && !defined {
				return nil, &ParseError{
					Section:       "bitmap",
					Field:         bit,
					BytesConsumed: consumed,
					Parsed:        parsed,
					Remaining:     rest,
					Reason:        (&FieldError{Tag: bit, Reason: "bit set for a field the schema does not define"}).Error(),
				}
			}
		}
	}

	fields := make(map[int][]byte)
	for _, t := range c.Schema.SortedTags() {
		if t <= 0 {
			continue
		}
		if c.Schema.HasBitmap && !bm.IsSet(t) {
			continue
		}
		fd := c.Schema.Fields[t]
		value, n, ferr := decodeField(fd, rest)
		if ferr != nil {
			return nil, &ParseError{
				Section:       "field",
				Field:         t,
				BytesConsumed: consumed,
				Parsed:        parsed,
				Remaining:     rest,
				Reason:        ferr.Error(),
			}
		}
		fields[t] = value
		rest = rest[n:]
		consumed += n
		parsed = append(parsed, t)
	}

	return &Message{MTI: mti, fields: fields, Raw: append([]byte(nil), payload...)}, nil
}

func (c *Codec) bitmapLen() int {
	if c.Schema.BitmapLen > 0 {
		return c.Schema.BitmapLen
	}
	return 64
}

func padMTI(mti string) string {
	for len(mti) < 4 {
		mti = "0" + mti
	}
	if len(mti) > 4 {
		mti = mti[:4]
	}
	return mti
}

func encodeField(fd FieldDef, value []byte) ([]byte, error) {
	switch fd.Kind {
	case Fixed:
		return padFixed(value, fd), nil
	case LLVar, LLLVar, LLLLVar:
		prefix, err := encodeVarPrefix(fd.Kind, len(value))
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(prefix)+len(value))
		out = append(out, []byte(prefix)...)
		out = append(out, value...)
		return out, nil
	default:
		return nil, fmt.Errorf("unknown length kind %d", fd.Kind)
	}
}

func decodeField(fd FieldDef, data []byte) ([]byte, int, error) {
	switch fd.Kind {
	case Fixed:
		if len(data) < fd.Length {
			return nil, 0, &FieldError{Tag: fd.Tag, Reason: fmt.Sprintf("need %d bytes, have %d", fd.Length, len(data))}
		}
		return append([]byte(nil), data[:fd.Length]...), fd.Length, nil
	case LLVar, LLLVar, LLLLVar:
		w := varPrefixWidth(fd.Kind)
		if len(data) < w {
			return nil, 0, &FieldError{Tag: fd.Tag, Reason: "truncated length prefix"}
		}
		n := 0
		for _, b := range data[:w] {
			if b < '0' || b > '9' {
				return nil, 0, &FieldError{Tag: fd.Tag, Reason: "non-digit length prefix"}
			}
			n = n*10 + int(b-'0')
		}
		if len(data) < w+n {
			return nil, 0, &FieldError{Tag: fd.Tag, Reason: fmt.Sprintf("declared %d bytes, only %d available", n, len(data)-w)}
		}
		return append([]byte(nil), data[w:w+n]...), w + n, nil
	default:
		return nil, 0, fmt.Errorf("unknown length kind %d", fd.Kind)
	}
}

func padFixed(value []byte, fd FieldDef) []byte {
	if len(value) >= fd.Length {
		return value[:fd.Length]
	}
	pad := fd.PadChar
	if pad == 0 {
		if fd.Type == TypeNumeric {
			pad = '0'
		} else {
			pad = ' '
		}
	}
	out := make([]byte, fd.Length)
	for i := range out {
		out[i] = pad
	}
	if fd.PadLeft {
		copy(out[fd.Length-len(value):], value)
	} else {
		copy(out, value)
	}
	return out
}

// DecodeComposite parses data as a sequential (non-bitmap) run of
// sub-schema's fields, used for nested/composite fields. It parses one
// level only: a sub-field's own Composite schema is not descended into.
func DecodeComposite(data []byte, schema *Schema) (map[int][]byte, error) {
	fields := make(map[int][]byte)
	rest := data
	for _, t := range schema.SortedTags() {
		fd := schema.Fields[t]
		v, n, err := decodeField(fd, rest)
		if err != nil {
			return nil, fmt.Errorf("iso8583: composite field %d: %w", t, err)
		}
		fields[t] = v
		rest = rest[n:]
	}
	return fields, nil
}

// EncodeComposite is the inverse of DecodeComposite.
func EncodeComposite(fields map[int][]byte, schema *Schema) ([]byte, error) {
	out := make([]byte, 0, 32)
	for _, t := range schema.SortedTags() {
		fd := schema.Fields[t]
		v, ok := fields[t]
		if !ok {
			continue
		}
		enc, err := encodeField(fd, v)
		if err != nil {
			return nil, fmt.Errorf("iso8583: composite field %d: %w", t, err)
		}
		out = append(out, enc...)
	}
	return out, nil
}
