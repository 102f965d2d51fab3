package domain

import "regexp"

// Address locates a property. The four components joined with "/" form the
// property identifier used as the correlation key across all entities.
type Address struct {
	Country string
	City    string
	Street  string
	Number  int
}

// ListingSnapshot is the listing content carried on an approval request.
// The orchestrator evaluates it once at CONTENT_CHECK; later listing edits
// do not affect an in-flight approval.
type ListingSnapshot struct {
	PropertyID  string
	Address     Address
	Description string
	Images      []string
	ListPrice   int64
	Currency    string
	Contract    string
	Status      string
}

// propertyIDPattern matches hierarchical identifiers of the form
// country/city/street/number, e.g. "usa/anytown/main-street/111".
var propertyIDPattern = regexp.MustCompile(`^[a-z-]+/[a-z-]+/[a-z][a-z0-9-]*/[0-9-]+$`)

// ValidPropertyID reports whether id conforms to the hierarchical
// country/city/street/number format.
func ValidPropertyID(id string) bool {
	return propertyIDPattern.MatchString(id)
}

// ContentVerdict is the outcome of the content safety evaluation.
type ContentVerdict struct {
	SentimentPassed bool
	ImagesPassed    bool
}

// Passed reports whether every check passed.
func (v ContentVerdict) Passed() bool {
	return v.SentimentPassed && v.ImagesPassed
}
