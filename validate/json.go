package validate

import "encoding/json"

// jsonRule mirrors Rule field-for-field so the JSON document is a direct,
// lossless sibling of the text form.
type jsonRule struct {
	Kind   Kind      `json:"kind"`
	MTI    string    `json:"mti,omitempty"`
	Field  int       `json:"field,omitempty"`
	Fields []int     `json:"fields,omitempty"`
	Type   FieldType `json:"type,omitempty"`
	MinLen int       `json:"minLen,omitempty"`
	MaxLen int       `json:"maxLen,omitempty"`

	Allowed     []string `json:"allowed,omitempty"`
	ExactLength int      `json:"exactLength,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
}

type jsonDocument struct {
	Rules []jsonRule `json:"rules"`
}

// ParseJSON decodes a rule document from its JSON form.
func ParseJSON(doc []byte) (RuleSet, error) {
	var jd jsonDocument
	if err := json.Unmarshal(doc, &jd); err != nil {
		return RuleSet{}, err
	}
	rs := RuleSet{Rules: make([]Rule, len(jd.Rules))}
	for i, jr := range jd.Rules {
		rs.Rules[i] = Rule{
			Kind:        jr.Kind,
			MTI:         jr.MTI,
			Field:       jr.Field,
			Fields:      jr.Fields,
			Type:        jr.Type,
			Length:      LengthSpec{Min: jr.MinLen, Max: jr.MaxLen},
			Allowed:     jr.Allowed,
			ExactLength: jr.ExactLength,
			Pattern:     jr.Pattern,
		}
	}
	return rs, nil
}

// FormatJSON encodes rs to its JSON form.
func FormatJSON(rs RuleSet) ([]byte, error) {
	jd := jsonDocument{Rules: make([]jsonRule, len(rs.Rules))}
	for i, r := range rs.Rules {
		jd.Rules[i] = jsonRule{
			Kind:        r.Kind,
			MTI:         r.MTI,
			Field:       r.Field,
			Fields:      r.Fields,
			Type:        r.Type,
			MinLen:      r.Length.Min,
			MaxLen:      r.Length.Max,
			Allowed:     r.Allowed,
			ExactLength: r.ExactLength,
			Pattern:     r.Pattern,
		}
	}
	return json.Marshal(jd)
}
