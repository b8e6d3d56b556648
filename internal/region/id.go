// Package region resolves coordinates to eBird region codes: a country
// ("FI") or a first-level subdivision ("US-CA").
package region

import (
	"strings"

	"github.com/tphakala/birdid/internal/errors"
)

// ID is a country or subdivision region code. The zero value is "no region".
// A subdivision always renders as "{CC}-{suffix}" with the country prefix it was built from.
type ID struct {
	country string
	suffix  string
}

// NewCountry returns the country-level ID for a two-letter code.
func NewCountry(cc string) (ID, error) {
	cc = strings.ToUpper(strings.TrimSpace(cc))
	if !validCountryCode(cc) {
		return ID{}, invalidCode("country", cc)
	}
	return ID{country: cc}, nil
}

// NewSubdivision returns the subdivision ID "{cc}-{suffix}".
func NewSubdivision(cc, suffix string) (ID, error) {
	country, err := NewCountry(cc)
	if err != nil {
		return ID{}, err
	}
	suffix = strings.ToUpper(strings.TrimSpace(suffix))
	if !validSuffix(suffix) {
		return ID{}, invalidCode("subdivision", cc+"-"+suffix)
	}
	country.suffix = suffix
	return country, nil
}

// Parse accepts "FI" or "US-CA".
func Parse(s string) (ID, error) {
	cc, suffix, found := strings.Cut(strings.TrimSpace(s), "-")
	if !found {
		return NewCountry(cc)
	}
	return NewSubdivision(cc, suffix)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	if id.suffix == "" {
		return id.country
	}
	return id.country + "-" + id.suffix
}

// CountryCode returns the two-letter country part.
func (id ID) CountryCode() string { return id.country }

// Country returns the country-level ID containing id.
func (id ID) Country() ID { return ID{country: id.country} }

// Suffix returns the subdivision part, or "" for countries.
func (id ID) Suffix() string { return id.suffix }

// IsSubdivision reports whether id names a subdivision.
func (id ID) IsSubdivision() bool { return id.suffix != "" }

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id.country == "" }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields the zero ID.
func (id *ID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func validCountryCode(cc string) bool {
	if len(cc) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		if cc[i] < 'A' || cc[i] > 'Z' {
			return false
		}
	}
	return true
}

// ISO 3166-2 subdivision suffixes are one to three alphanumerics.
func validSuffix(s string) bool {
	if len(s) == 0 || len(s) > 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func invalidCode(kind, code string) error {
	return errors.Newf("invalid %s code %q", kind, code).
		Component("region").
		Category(errors.CategoryValidation).
		Context("code", code).
		Build()
}
