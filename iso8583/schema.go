package iso8583

// FieldType is the ISO-8583 field content type used by both the codec's
// padding rules and the validation engine's FORMAT rule.
type FieldType string

const (
	TypeNumeric      FieldType = "N"   // digits only
	TypeAlpha        FieldType = "A"   // letters only
	TypeAlphaNumeric FieldType = "AN"  // letters and digits
	TypeAlphaNumSpec FieldType = "ANS" // letters, digits, special chars
	TypeBinary       FieldType = "B"   // raw binary
)

// LengthKind says whether a field is fixed-width or LL/LLL/LLLL-var-prefixed.
type LengthKind int

const (
	Fixed LengthKind = iota
	LLVar
	LLLVar
	LLLLVar
)

// DigitEncoding is how a variable-length prefix (or a fixed-length
// framing header) is carried on the wire.
type DigitEncoding int

const (
	ASCIIDigits DigitEncoding = iota
	BCDDigits
	BinaryDigits
)

// FieldDef describes one field's wire shape.
type FieldDef struct {
	Tag       int
	Name      string
	Type      FieldType
	Kind      LengthKind
	Length    int           // fixed width, or max width for var-length
	PadChar   byte          // fixed-width padding character
	PadLeft   bool          // pad on the left (numeric) vs right (alpha/ans)
	PrefixEnc DigitEncoding // not read by the codec: LL/LLL/LLLL prefixes are always ASCII digits
	Composite *Schema       // sub-schema for a composite field; Codec.Decode returns the field's raw bytes, which DecodeComposite parses one level deep
}

// Schema describes the bitmap-controlled field layout for one MTI (or a
// default layout shared by all MTIs). Bit N of the bitmap gates FieldDef
// with Tag == N (MSB-first): a set bit means the field is
// present on the wire.
type Schema struct {
	Fields    map[int]FieldDef
	HasBitmap bool
	BitmapLen int // number of controlled bits (64, or 128 with secondary bitmap)
}

// DefaultSchema returns the ISO 8583-subset field layout this repo's own
// processors and tests drive: PAN, processing code, amount, STAN, RRN,
// terminal/merchant/acquirer identifiers, response code, auth code and
// the original-data-elements field used by reversals. Third-party schema
// sources stay behind the Schema/Codec contract untouched; this is the
// concrete instance a channel.Config with no SchemaRef resolves to.
func DefaultSchema() *Schema {
	return &Schema{
		HasBitmap: true,
		BitmapLen: 128,
		Fields: map[int]FieldDef{
			2:  {Tag: 2, Name: "pan", Type: TypeNumeric, Kind: LLVar},
			3:  {Tag: 3, Name: "processing_code", Type: TypeNumeric, Kind: Fixed, Length: 6, PadChar: '0', PadLeft: true},
			4:  {Tag: 4, Name: "amount", Type: TypeNumeric, Kind: Fixed, Length: 12, PadChar: '0', PadLeft: true},
			11: {Tag: 11, Name: "stan", Type: TypeNumeric, Kind: Fixed, Length: 6, PadChar: '0', PadLeft: true},
			25: {Tag: 25, Name: "reason", Type: TypeAlphaNumSpec, Kind: LLVar},
			32: {Tag: 32, Name: "acquirer_id", Type: TypeNumeric, Kind: LLVar},
			37: {Tag: 37, Name: "rrn", Type: TypeAlphaNumeric, Kind: Fixed, Length: 12, PadChar: ' '},
			39: {Tag: 39, Name: "response_code", Type: TypeAlphaNumeric, Kind: Fixed, Length: 2},
			38: {Tag: 38, Name: "auth_code", Type: TypeAlphaNumeric, Kind: Fixed, Length: 6, PadChar: ' '},
			41: {Tag: 41, Name: "terminal_id", Type: TypeAlphaNumeric, Kind: Fixed, Length: 8, PadChar: ' '},
			42: {Tag: 42, Name: "merchant_id", Type: TypeAlphaNumeric, Kind: Fixed, Length: 15, PadChar: ' '},
			49: {Tag: 49, Name: "currency_code", Type: TypeNumeric, Kind: Fixed, Length: 3, PadChar: '0', PadLeft: true},
			90: {Tag: 90, Name: "original_data_elements", Type: TypeAlphaNumSpec, Kind: LLVar},
		},
	}
}

// FieldDefFor looks up tag's definition, returning false if tag is not
// part of this schema.
func (s *Schema) FieldDefFor(tag int) (FieldDef, bool) {
	fd, ok := s.Fields[tag]
	return fd, ok
}

// SortedTags returns the schema's field tags in ascending order, the
// order fields are walked on both encode and decode.
func (s *Schema) SortedTags() []int {
	tags := make([]int, 0, len(s.Fields))
	for t := range s.Fields {
		tags = append(tags, t)
	}
	for i := 1; i < len(tags); i++ {
		for j := i; j > 0 && tags[j-1] > tags[j]; j-- {
			tags[j-1], tags[j] = tags[j], tags[j-1]
		}
	}
	return tags
}
