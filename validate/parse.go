package validate

import "encoding/json"

// Parse auto-detects doc's format: JSON if it parses as a JSON object,
// otherwise the compact line syntax.
func Parse(doc string) (RuleSet, error) {
	if looksLikeJSONObject(doc) {
		return ParseJSON([]byte(doc))
	}
	return ParseText(doc)
}

func looksLikeJSONObject(doc string) bool {
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		return false
	}
	trimmed := trimLeadingSpace(doc)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func trimLeadingSpace(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return s[i:]
}
