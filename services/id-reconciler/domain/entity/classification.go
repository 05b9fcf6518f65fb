package entity

// Classification is the derived state of one reference value
type Classification string

const (
	ClassValid            Classification = "valid"
	ClassLegacyInternalID Classification = "legacy-internal-id"
	ClassLegacyHexString  Classification = "legacy-hex-string"
	ClassNull             Classification = "null"
	ClassBroken           Classification = "broken"
)

// IsLegacy reports whether c is one of the two legacy shapes
func (c Classification) IsLegacy() bool {
	return c == ClassLegacyInternalID || c == ClassLegacyHexString
}

// Sample reasons
const (
	ReasonMissing         = "missing"
	ReasonNotFound        = "no entity with this string id"
	ReasonUnexpectedType  = "unexpected value type"
	ReasonInternalID      = "internal id reference"
	ReasonHexString       = "hex string shaped like an internal id"
	ReasonUnresolved      = "referenced entity no longer exists"
	ReasonOrphan          = "reference resolves to no entity"
	ReasonNonNumericMerge = "non-numeric merge field"
	ReasonEmptyString     = "empty string"
)

// Counts tallies classifications for one reference field. Missing is the
// subset of Null that is also counted as Broken because the field is
// required, so Valid+LegacyInternalID+LegacyHexString+Null+Broken-Missing
// equals Values.
type Counts struct {
	Values           int64 `json:"values"`
	Valid            int64 `json:"valid"`
	LegacyInternalID int64 `json:"legacy_internal_id"`
	LegacyHexString  int64 `json:"legacy_hex_string"`
	Null             int64 `json:"null"`
	Broken           int64 `json:"broken"`
	Missing          int64 `json:"missing"`
}

// Legacy returns the number of legacy-shaped values of either kind
func (c Counts) Legacy() int64 {
	return c.LegacyInternalID + c.LegacyHexString
}

// Add tallies one classified value
func (c *Counts) Add(class Classification, required bool) {
	c.Values++
	switch class {
	case ClassValid:
		c.Valid++
	case ClassLegacyInternalID:
		c.LegacyInternalID++
	case ClassLegacyHexString:
		c.LegacyHexString++
	case ClassNull:
		c.Null++
		if required {
			c.Broken++
			c.Missing++
		}
	default:
		c.Broken++
	}
}

// Merge adds other into c
func (c *Counts) Merge(other Counts) {
	c.Values += other.Values
	c.Valid += other.Valid
	c.LegacyInternalID += other.LegacyInternalID
	c.LegacyHexString += other.LegacyHexString
	c.Null += other.Null
	c.Broken += other.Broken
	c.Missing += other.Missing
}

// Get returns the count of one classification
func (c Counts) Get(class Classification) int64 {
	switch class {
	case ClassValid:
		return c.Valid
	case ClassLegacyInternalID:
		return c.LegacyInternalID
	case ClassLegacyHexString:
		return c.LegacyHexString
	case ClassNull:
		return c.Null
	case ClassBroken:
		return c.Broken
	}
	return 0
}

// Sample is one offending value kept for the report
type Sample struct {
	DocumentID string `json:"document_id"`
	Path       string `json:"path"`
	Raw        string `json:"raw"`
	Reason     string `json:"reason"`
}

// Reference is one concrete reference value located in a document.
// Path is positional: array elements carry their index (items.2.productId).
type Reference struct {
	DocumentID  interface{}    `json:"-"`
	DocumentKey string         `json:"document_id"`
	Field       ReferenceField `json:"field"`
	Path        string         `json:"path"`
	Raw         interface{}    `json:"-"`
	Class       Classification `json:"classification"`
}
