package slots

import (
	"regexp"
	"strconv"
	"strings"
)

// Recognized slot names.
const (
	Age            = "age"
	Gender         = "gender"
	Procedure      = "procedure"
	Location       = "location"
	PolicyDuration = "policy_duration"
)

// Set maps slot names to extracted values. A slot is present only when an
// extraction rule matched.
type Set map[string]any

// Has reports whether the slot was extracted.
func (s Set) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s[name]
	return ok
}

// String returns the slot value when it holds a string.
func (s Set) String(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s[name].(string)
	return v, ok
}

// Clone returns a shallow copy of the set.
func (s Set) Clone() Set {
	if s == nil {
		return Set{}
	}
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

var (
	agePattern      = regexp.MustCompile(`(?i)\b(\d{2})[- ]?(?:years?[- ]old|yrs?|y/o)\b`)
	genderPattern   = regexp.MustCompile(`(?i)\b(male|female|man|woman|m|f)\b`)
	durationPattern = regexp.MustCompile(`(?i)\b(\d+)[- ]?(?:months?|mos?|years?|yrs?)(?:[- ]old)?\b`)
	locationPattern = regexp.MustCompile(`\b[iI]n ([A-Z][A-Za-z]*(?:[ ][A-Z][A-Za-z]*)*)`)
)

// Extractor pulls slot facts out of free-form claim queries.
type Extractor struct {
	procedure *regexp.Regexp
	places    []string
}

// NewExtractor builds an extractor over the supplied procedure keywords and
// place names. Empty lists fall back to the built-in vocabularies.
func NewExtractor(procedures, places []string) *Extractor {
	if len(procedures) == 0 {
		procedures = defaultProcedures
	}
	if len(places) == 0 {
		places = defaultPlaces
	}
	quoted := make([]string, 0, len(procedures))
	for _, p := range procedures {
		p = strings.TrimSpace(p)
		if p != "" {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
	}
	pattern := `(?i)\b(?:` + strings.Join(quoted, "|") + `)[\w-]*(?:\s+(?:` + strings.Join(procedureNouns, "|") + `))*\b`
	normalized := make([]string, 0, len(places))
	for _, p := range places {
		if p = strings.TrimSpace(p); p != "" {
			normalized = append(normalized, p)
		}
	}
	return &Extractor{procedure: regexp.MustCompile(pattern), places: normalized}
}

// Extract parses text into a slot set. It never fails; unmatched slots are
// simply absent.
func (e *Extractor) Extract(text string) Set {
	out := Set{}
	if strings.TrimSpace(text) == "" {
		return out
	}

	ageSpan := []int(nil)
	if m := agePattern.FindStringSubmatchIndex(text); m != nil {
		if age, err := strconv.Atoi(text[m[2]:m[3]]); err == nil {
			out[Age] = age
			ageSpan = m[:2]
		}
	}

	if m := genderPattern.FindStringSubmatch(text); m != nil {
		out[Gender] = normalizeGender(m[1])
	}

	if e != nil && e.procedure != nil {
		if m := e.procedure.FindString(text); m != "" {
			out[Procedure] = strings.TrimSpace(m)
		}
	}

	// The age phrase ("46-year-old") also looks like a duration.
	for _, m := range durationPattern.FindAllStringIndex(text, -1) {
		if ageSpan != nil && m[0] < ageSpan[1] && ageSpan[0] < m[1] {
			continue
		}
		out[PolicyDuration] = text[m[0]:m[1]]
		break
	}

	if m := locationPattern.FindStringSubmatch(text); m != nil {
		out[Location] = strings.TrimSpace(m[1])
	} else if e != nil {
		if place := e.lookupPlace(text); place != "" {
			out[Location] = place
		}
	}

	return out
}

func (e *Extractor) lookupPlace(text string) string {
	lower := " " + strings.ToLower(text) + " "
	for _, place := range e.places {
		needle := strings.ToLower(place)
		idx := strings.Index(lower, needle)
		if idx <= 0 {
			continue
		}
		before := lower[idx-1]
		after := lower[idx+len(needle)]
		if isWordByte(before) || isWordByte(after) {
			continue
		}
		return place
	}
	return ""
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}

func normalizeGender(raw string) string {
	switch strings.ToLower(raw) {
	case "m", "male", "man":
		return "male"
	case "f", "female", "woman":
		return "female"
	}
	return strings.ToLower(raw)
}

var defaultProcedures = []string{
	"knee", "hip", "bypass", "cataract", "surgery", "replacement", "fracture",
	"angioplasty", "cosmetic", "rhinoplasty", "liposuction", "dental", "cardiac",
	"appendectomy", "dialysis", "chemotherapy", "maternity",
}

var procedureNouns = []string{
	"surgery", "replacement", "procedure", "operation", "repair", "treatment",
	"transplant", "implant", "therapy",
}

var defaultPlaces = []string{
	"Mumbai", "Pune", "Delhi", "New Delhi", "Bangalore", "Bengaluru", "Chennai",
	"Hyderabad", "Kolkata", "Ahmedabad", "Jaipur", "Lucknow", "Nagpur", "Surat",
	"Indore", "Bhopal", "Chandigarh", "Kochi", "Goa", "London", "New York",
	"Singapore", "Dubai",
}
