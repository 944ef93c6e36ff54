package iso8583

import (
	"encoding/hex"
	"fmt"
)

// ParseError is returned by Decode on malformed input. It carries a
// diagnostic progress summary: how far decoding got,
// which field it was on, and what remains.
type ParseError struct {
	Section       string // "header", "mti", "bitmap", "field"
	Field         int    // field tag in progress when the error occurred, -1 if none
	BytesConsumed int
	Parsed        []int // tags successfully parsed before the failure
	Remaining     []byte
	Reason        string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf(
		"iso8583: parse error in %s (field %d) after %d bytes: %s; parsed=%v remaining=%s",
		e.Section, e.Field, e.BytesConsumed, e.Reason, e.Parsed, hex.EncodeToString(e.Remaining),
	)
}

func newFieldError(section string, field int, reason string) *ParseError {
	return &ParseError{Section: section, Field: field, Reason: reason}
}

// FieldError reports a gating or truncation problem tied to one field,
// such as a bitmap bit set for an undefined field, or a body shorter
// than its declared length.
type FieldError struct {
	Tag    int
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("iso8583: field %d: %s", e.Tag, e.Reason)
}
