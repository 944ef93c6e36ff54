// Package iso8583 implements the codec façade: a length-framed,
// schema-driven encode/decode of ISO-8583-style messages. It treats the
// wire contract (MTI + bitmap + indexed fields) as the only thing callers
// need; anything more exotic (proprietary generic schemas) is expected to
// sit behind the same Schema/Codec shape.
package iso8583

// Message is a decoded ISO-8583-style message. Fields are read-only once
// handed to the pipeline: callers must not modify the byte slices
// returned by Field, which share the message's own storage.
type Message struct {
	MTI    string
	fields map[int][]byte
	Raw    []byte
}

// NewMessage builds a Message from an MTI and a set of field values. The
// caller's map is copied so later mutation by the caller can't leak into
// the message.
func NewMessage(mti string, fields map[int][]byte) *Message {
	m := &Message{MTI: mti, fields: make(map[int][]byte, len(fields))}
	for k, v := range fields {
		cp := make([]byte, len(v))
		copy(cp, v)
		m.fields[k] = cp
	}
	return m
}

// Field returns the raw bytes for tag, and whether it was present.
func (m *Message) Field(tag int) ([]byte, bool) {
	v, ok := m.fields[tag]
	return v, ok
}

// FieldString returns tag's value as a string, and whether it was present.
func (m *Message) FieldString(tag int) (string, bool) {
	v, ok := m.fields[tag]
	if !ok {
		return "", false
	}
	return string(v), true
}

// SetField sets tag on the message. Used by processors building a response.
func (m *Message) SetField(tag int, value []byte) {
	if m.fields == nil {
		m.fields = make(map[int][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.fields[tag] = cp
}

// SetFieldString is SetField for string values.
func (m *Message) SetFieldString(tag int, value string) {
	m.SetField(tag, []byte(value))
}

// Tags returns the set of field tags present on the message, sorted.
func (m *Message) Tags() []int {
	tags := make([]int, 0, len(m.fields))
	for t := range m.fields {
		tags = append(tags, t)
	}
	for i := 1; i < len(tags); i++ {
		for j := i; j > 0 && tags[j-1] > tags[j]; j-- {
			tags[j-1], tags[j] = tags[j], tags[j-1]
		}
	}
	return tags
}

// STAN returns field 11 (System Trace Audit Number), the correlation key
// used by the pending-request registry.
func (m *Message) STAN() (string, bool) {
	return m.FieldString(11)
}

// RRN returns field 37 (Retrieval Reference Number).
func (m *Message) RRN() (string, bool) {
	return m.FieldString(37)
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	clone := &Message{MTI: m.MTI, fields: make(map[int][]byte, len(m.fields))}
	for k, v := range m.fields {
		cp := make([]byte, len(v))
		copy(cp, v)
		clone.fields[k] = cp
	}
	if m.Raw != nil {
		clone.Raw = append([]byte(nil), m.Raw...)
	}
	return clone
}

// Equal reports whether m and o carry the same MTI and field values.
// Used by the codec round-trip tests.
func (m *Message) Equal(o *Message) bool {
	if o == nil || m.MTI != o.MTI || len(m.fields) != len(o.fields) {
		return false
	}
	for k, v := range m.fields {
		ov, ok := o.fields[k]
		if !ok || len(ov) != len(v) {
			return false
		}
		for i := range v {
			if v[i] != ov[i] {
				return false
			}
		}
	}
	return true
}
