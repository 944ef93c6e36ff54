package validate

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseText parses the compact line-oriented rule syntax, e.g.
// "REQUIRED:2,3,4;FORMAT:2=N(13-19);MTI:0800=REQUIRED:70".
// Statements are ';'-separated; a leading "MTI:<mti>=" scopes the
// remainder of that statement to one MTI.
func ParseText(doc string) (RuleSet, error) {
	var rs RuleSet
	for _, stmt := range splitStatements(doc) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		mti, body := "", stmt
		if strings.HasPrefix(stmt, "MTI:") {
			rest := stmt[len("MTI:"):]
			idx := strings.Index(rest, "=")
			if idx < 0 {
				return RuleSet{}, fmt.Errorf("validate: malformed MTI scope in %q", stmt)
			}
			mti = rest[:idx]
			body = rest[idx+1:]
		}
		rule, err := parseStatementBody(mti, body)
		if err != nil {
			return RuleSet{}, err
		}
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, nil
}

func splitStatements(doc string) []string {
	return strings.Split(doc, ";")
}

func parseStatementBody(mti, body string) (Rule, error) {
	idx := strings.Index(body, ":")
	if idx < 0 {
		return Rule{}, fmt.Errorf("validate: malformed statement %q", body)
	}
	kind := Kind(body[:idx])
	rest := body[idx+1:]

	switch kind {
	case KindRequired:
		fields, err := parseIntList(rest)
		if err != nil {
			return Rule{}, err
		}
		return Rule{Kind: KindRequired, MTI: mti, Fields: fields}, nil

	case KindFormat:
		return parseFormat(mti, rest)

	case KindValue:
		return parseValue(mti, rest)

	case KindLength:
		return parseLength(mti, rest)

	case KindPattern:
		return parsePattern(mti, rest)

	default:
		return Rule{}, fmt.Errorf("validate: unknown rule kind %q", kind)
	}
}

// parseFormat parses "2=N(13-19)", "2=N(16)", or "2=N(..19)".
func parseFormat(mti, rest string) (Rule, error) {
	field, typeSpec, err := splitFieldEquals(rest)
	if err != nil {
		return Rule{}, err
	}
	open := strings.Index(typeSpec, "(")
	shut := strings.Index(typeSpec, ")")
	if open < 0 || shut < 0 || shut < open {
		return Rule{}, fmt.Errorf("validate: malformed FORMAT spec %q", typeSpec)
	}
	ft := FieldType(typeSpec[:open])
	lenSpec, err := parseLengthSpec(typeSpec[open+1 : shut])
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: KindFormat, MTI: mti, Field: field, Type: ft, Length: lenSpec}, nil
}

func parseLengthSpec(s string) (LengthSpec, error) {
	switch {
	case strings.HasPrefix(s, ".."):
		max, err := strconv.Atoi(s[2:])
		if err != nil {
			return LengthSpec{}, fmt.Errorf("validate: malformed length bound %q: %w", s, err)
		}
		return LengthSpec{Min: 0, Max: max}, nil
	case strings.Contains(s, "-"):
		parts := strings.SplitN(s, "-", 2)
		min, err := strconv.Atoi(parts[0])
		if err != nil {
			return LengthSpec{}, fmt.Errorf("validate: malformed length range %q: %w", s, err)
		}
		max, err := strconv.Atoi(parts[1])
		if err != nil {
			return LengthSpec{}, fmt.Errorf("validate: malformed length range %q: %w", s, err)
		}
		return LengthSpec{Min: min, Max: max}, nil
	default:
		n, err := strconv.Atoi(s)
		if err != nil {
			return LengthSpec{}, fmt.Errorf("validate: malformed exact length %q: %w", s, err)
		}
		return LengthSpec{Min: n, Max: n}, nil
	}
}

func parseValue(mti, rest string) (Rule, error) {
	field, values, err := splitFieldEquals(rest)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: KindValue, MTI: mti, Field: field, Allowed: strings.Split(values, ",")}, nil
}

func parseLength(mti, rest string) (Rule, error) {
	field, n, err := splitFieldEquals(rest)
	if err != nil {
		return Rule{}, err
	}
	exact, err := strconv.Atoi(n)
	if err != nil {
		return Rule{}, fmt.Errorf("validate: malformed LENGTH value %q: %w", n, err)
	}
	return Rule{Kind: KindLength, MTI: mti, Field: field, ExactLength: exact}, nil
}

func parsePattern(mti, rest string) (Rule, error) {
	field, pat, err := splitFieldEquals(rest)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: KindPattern, MTI: mti, Field: field, Pattern: pat}, nil
}

func splitFieldEquals(s string) (int, string, error) {
	idx := strings.Index(s, "=")
	if idx < 0 {
		return 0, "", fmt.Errorf("validate: expected field=value in %q", s)
	}
	field, err := strconv.Atoi(s[:idx])
	if err != nil {
		return 0, "", fmt.Errorf("validate: malformed field number %q: %w", s[:idx], err)
	}
	return field, s[idx+1:], nil
}

func parseIntList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("validate: malformed field number %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// FormatText renders rs back to the compact line syntax, in document
// order, sufficient to round-trip through ParseText.
func FormatText(rs RuleSet) string {
	stmts := make([]string, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		body := formatRuleBody(r)
		if r.MTI != "" {
			body = fmt.Sprintf("MTI:%s=%s", r.MTI, body)
		}
		stmts = append(stmts, body)
	}
	return strings.Join(stmts, ";")
}

func formatRuleBody(r Rule) string {
	switch r.Kind {
	case KindRequired:
		parts := make([]string, len(r.Fields))
		for i, f := range r.Fields {
			parts[i] = strconv.Itoa(f)
		}
		return fmt.Sprintf("REQUIRED:%s", strings.Join(parts, ","))
	case KindFormat:
		return fmt.Sprintf("FORMAT:%d=%s(%s)", r.Field, r.Type, formatLengthSpec(r.Length))
	case KindValue:
		return fmt.Sprintf("VALUE:%d=%s", r.Field, strings.Join(r.Allowed, ","))
	case KindLength:
		return fmt.Sprintf("LENGTH:%d=%d", r.Field, r.ExactLength)
	case KindPattern:
		return fmt.Sprintf("PATTERN:%d=%s", r.Field, r.Pattern)
	default:
		return ""
	}
}

func formatLengthSpec(l LengthSpec) string {
	switch {
	case l.Min == l.Max:
		return strconv.Itoa(l.Min)
	case l.Min == 0:
		return ".." + strconv.Itoa(l.Max)
	default:
		return fmt.Sprintf("%d-%d", l.Min, l.Max)
	}
}
