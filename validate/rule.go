// Package validate implements the rule-based message validation
// engine: REQUIRED/FORMAT/VALUE/LENGTH/PATTERN rules, global and
// per-MTI scoping, and a dual text/JSON configuration surface with
// lossless round-trip.
package validate

// Kind is a validation rule's taxonomy.
type Kind string

const (
	KindRequired Kind = "REQUIRED"
	KindFormat   Kind = "FORMAT"
	KindValue    Kind = "VALUE"
	KindLength   Kind = "LENGTH"
	KindPattern  Kind = "PATTERN"
)

// FieldType is the FORMAT rule's field type vocabulary.
type FieldType string

const (
	TypeNumeric       FieldType = "N"
	TypeAlpha         FieldType = "A"
	TypeAlphaNumeric  FieldType = "AN"
	TypeAlphaNumSpace FieldType = "ANS"
	TypeBinary        FieldType = "B"
)

// LengthSpec describes a FORMAT rule's length constraint: exact (Min==Max),
// range (Min < Max, both set), or upper-bound only (Min==0, Max set).
type LengthSpec struct {
	Min int
	Max int
}

// Rule is one validation constraint, optionally scoped to a single MTI
// (empty MTI means global).
type Rule struct {
	Kind  Kind
	MTI   string // "" = global
	Field int

	// REQUIRED: Fields lists every required field id, e.g. 2,3,4 for
	// REQUIRED:2,3,4; Field stays 0.
	Fields []int

	// FORMAT
	Type   FieldType
	Length LengthSpec

	// VALUE
	Allowed []string

	// LENGTH (exact)
	ExactLength int

	// PATTERN
	Pattern string
}

// RuleSet is the parsed/decoded form of a validation document: every
// rule, in document order, preserved for lossless round-trip.
type RuleSet struct {
	Rules []Rule
}

// Global returns every rule with no MTI scope.
func (rs RuleSet) Global() []Rule {
	var out []Rule
	for _, r := range rs.Rules {
		if r.MTI == "" {
			out = append(out, r)
		}
	}
	return out
}

// ForMTI returns the union of global rules and rules scoped to mti.
func (rs RuleSet) ForMTI(mti string) []Rule {
	out := rs.Global()
	for _, r := range rs.Rules {
		if r.MTI == mti {
			out = append(out, r)
		}
	}
	return out
}
