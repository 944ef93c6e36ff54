package validate

import (
	"fmt"
	"regexp"

	"github.com/nilm987521/fep/iso8583"
)

// ErrorKind classifies why one field failed validation.
type ErrorKind string

const (
	ErrMissingRequired ErrorKind = "MISSING_REQUIRED"
	ErrWrongType       ErrorKind = "WRONG_TYPE"
	ErrWrongLength     ErrorKind = "WRONG_LENGTH"
	ErrDisallowedValue ErrorKind = "DISALLOWED_VALUE"
	ErrPatternMismatch ErrorKind = "PATTERN_MISMATCH"
)

// FieldError is one validation failure: the field, the error kind, what
// was expected and seen, and a human-readable message.
type FieldError struct {
	Field    int
	Kind     ErrorKind
	Expected string
	Actual   string
	Message  string
}

// Outcome is a validation evaluation's result: either Passed or a
// non-empty Errors list.
type Outcome struct {
	Errors []FieldError
}

// Passed reports whether the evaluation produced no errors.
func (o Outcome) Passed() bool { return len(o.Errors) == 0 }

// Evaluate runs the rule set's union of global and per-MTI rules against
// msg (pipeline stage 2).
func Evaluate(rs RuleSet, msg *iso8583.Message) Outcome {
	var out Outcome
	for _, r := range rs.ForMTI(msg.MTI) {
		out.Errors = append(out.Errors, evalRule(r, msg)...)
	}
	return out
}

func evalRule(r Rule, msg *iso8583.Message) []FieldError {
	switch r.Kind {
	case KindRequired:
		var errs []FieldError
		for _, f := range r.Fields {
			if _, ok := msg.Field(f); !ok {
				errs = append(errs, FieldError{
					Field:   f,
					Kind:    ErrMissingRequired,
					Message: fmt.Sprintf("Required field %d is missing", f),
				})
			}
		}
		return errs

	case KindFormat:
		v, ok := msg.FieldString(r.Field)
		if !ok {
			return nil
		}
		var errs []FieldError
		if !matchesType(r.Type, v) {
			errs = append(errs, FieldError{
				Field: r.Field, Kind: ErrWrongType, Expected: string(r.Type), Actual: v,
				Message: fmt.Sprintf("Field %d does not match type %s", r.Field, r.Type),
			})
		}
		if !r.Length.matches(len(v)) {
			errs = append(errs, FieldError{
				Field: r.Field, Kind: ErrWrongLength, Expected: formatLengthSpec(r.Length), Actual: fmt.Sprint(len(v)),
				Message: fmt.Sprintf("Field %d length %d out of bounds", r.Field, len(v)),
			})
		}
		return errs

	case KindValue:
		v, ok := msg.FieldString(r.Field)
		if !ok {
			return nil
		}
		for _, allowed := range r.Allowed {
			if v == allowed {
				return nil
			}
		}
		return []FieldError{{
			Field: r.Field, Kind: ErrDisallowedValue, Actual: v,
			Message: fmt.Sprintf("Field %d value %q is not allowed", r.Field, v),
		}}

	case KindLength:
		v, ok := msg.FieldString(r.Field)
		if !ok {
			return nil
		}
		if len(v) != r.ExactLength {
			return []FieldError{{
				Field: r.Field, Kind: ErrWrongLength, Expected: fmt.Sprint(r.ExactLength), Actual: fmt.Sprint(len(v)),
				Message: fmt.Sprintf("Field %d length %d, expected %d", r.Field, len(v), r.ExactLength),
			}}
		}
		return nil

	case KindPattern:
		v, ok := msg.FieldString(r.Field)
		if !ok {
			return nil
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil || !re.MatchString(v) {
			return []FieldError{{
				Field: r.Field, Kind: ErrPatternMismatch, Expected: r.Pattern, Actual: v,
				Message: fmt.Sprintf("Field %d does not match pattern %s", r.Field, r.Pattern),
			}}
		}
		return nil
	}
	return nil
}

func (l LengthSpec) matches(n int) bool {
	if l.Min > 0 && n < l.Min {
		return false
	}
	if l.Max > 0 && n > l.Max {
		return false
	}
	return true
}

func matchesType(t FieldType, v string) bool {
	switch t {
	case TypeNumeric:
		for _, c := range v {
			if c < '0' || c > '9' {
				return false
			}
		}
		return true
	case TypeAlpha:
		for _, c := range v {
			if !(c >= 'A' && c <= 'Z') && !(c >= 'a' && c <= 'z') {
				return false
			}
		}
		return true
	case TypeAlphaNumeric:
		for _, c := range v {
			isAlpha := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
			isNum := c >= '0' && c <= '9'
			if !isAlpha && !isNum {
				return false
			}
		}
		return true
	case TypeAlphaNumSpace, TypeBinary, "":
		return true
	default:
		return true
	}
}
