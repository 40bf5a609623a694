package scan

import (
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
)

// StrpFormat is a parsed strptime-style format specifier. The user-facing
// surface speaks %-directives; internally each specifier is translated once
// to a Go reference layout.
type StrpFormat struct {
	Specifier string
	layout    string
}

// ParseFormatSpecifier translates a %-directive format string into a
// StrpFormat. Supported directives: %Y %y %m %d %H %I %M %S %p %z, and %f
// for fractional seconds immediately following a literal dot.
func ParseFormatSpecifier(spec string) (StrpFormat, error) {
	var layout strings.Builder
	for i := 0; i < len(spec); i++ {
		c := spec[i]
		if c != '%' {
			// A literal dot directly before %f belongs to the fraction.
			if c == '.' && i+2 < len(spec) && spec[i+1] == '%' && spec[i+2] == 'f' {
				layout.WriteString(".999999")
				i += 2
				continue
			}
			layout.WriteByte(c)
			continue
		}
		if i+1 >= len(spec) {
			return StrpFormat{}, fmt.Errorf("trailing %% in format specifier %q", spec)
		}
		i++
		switch spec[i] {
		case 'Y':
			layout.WriteString("2006")
		case 'y':
			layout.WriteString("06")
		case 'm':
			layout.WriteString("01")
		case 'd':
			layout.WriteString("02")
		case 'H':
			layout.WriteString("15")
		case 'I':
			layout.WriteString("03")
		case 'M':
			layout.WriteString("04")
		case 'S':
			layout.WriteString("05")
		case 'p':
			layout.WriteString("PM")
		case 'z':
			layout.WriteString("-07:00")
		case '%':
			layout.WriteByte('%')
		case 'f':
			return StrpFormat{}, fmt.Errorf("%%f must follow a literal '.' in format specifier %q", spec)
		default:
			return StrpFormat{}, fmt.Errorf("unsupported directive %%%c in format specifier %q", spec[i], spec)
		}
	}
	return StrpFormat{Specifier: spec, layout: layout.String()}, nil
}

// Parse parses s according to the format. Dates and times that do not exist
// (month 13, day 32) are rejected.
func (f StrpFormat) Parse(s string) (time.Time, error) {
	return time.Parse(f.layout, s)
}

// DateFormatMap holds the candidate date and timestamp formats per logical
// type. Candidates are insertion-ordered with the most-preferred format
// last; during detection a failing preferred candidate is dropped by
// truncation, promoting its predecessor.
type DateFormatMap struct {
	candidates map[arrow.Type][]StrpFormat
}

// NewDateFormatMap returns an empty map.
func NewDateFormatMap() *DateFormatMap {
	return &DateFormatMap{candidates: make(map[arrow.Type][]StrpFormat)}
}

// defaultFormatTemplates are the formats tried during auto-detection when
// the user did not force one, least-preferred first.
var defaultFormatTemplates = map[arrow.Type][]string{
	arrow.DATE32: {
		"%m-%d-%Y", "%m-%d-%y", "%d-%m-%Y", "%d-%m-%y", "%Y-%m-%d", "%y-%m-%d",
	},
	arrow.TIMESTAMP: {
		"%Y-%m-%dT%H:%M:%SZ",
		"%m-%d-%Y %I:%M:%S %p", "%m-%d-%y %I:%M:%S %p",
		"%d-%m-%Y %H:%M:%S", "%d-%m-%y %H:%M:%S",
		"%Y-%m-%d %H:%M:%S", "%y-%m-%d %H:%M:%S",
		"%Y-%m-%dT%H:%M:%S.%fZ", "%Y-%m-%d %H:%M:%S.%f",
	},
}

// InitializeDefaults seeds the map with the built-in candidate templates
// for every type that has no formats yet.
func (m *DateFormatMap) InitializeDefaults() error {
	for typ, templates := range defaultFormatTemplates {
		if m.HasFormats(typ) {
			continue
		}
		for _, spec := range templates {
			if err := m.AddFormat(typ, spec); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddFormat appends a candidate for the type, making it the preferred one.
func (m *DateFormatMap) AddFormat(typ arrow.Type, spec string) error {
	f, err := ParseFormatSpecifier(spec)
	if err != nil {
		return err
	}
	m.candidates[typ] = append(m.candidates[typ], f)
	return nil
}

// HasFormats reports whether any candidate remains for the type.
func (m *DateFormatMap) HasFormats(typ arrow.Type) bool {
	return len(m.candidates[typ]) > 0
}

// Candidates returns the candidate list for the type, least-preferred first.
func (m *DateFormatMap) Candidates(typ arrow.Type) []StrpFormat {
	return m.candidates[typ]
}

// Preferred returns the currently preferred (last) candidate for the type.
func (m *DateFormatMap) Preferred(typ arrow.Type) (StrpFormat, bool) {
	c := m.candidates[typ]
	if len(c) == 0 {
		return StrpFormat{}, false
	}
	return c[len(c)-1], true
}

// DropPreferred removes the preferred candidate, promoting its predecessor.
// It reports whether any candidate remains.
func (m *DateFormatMap) DropPreferred(typ arrow.Type) bool {
	c := m.candidates[typ]
	if len(c) == 0 {
		return false
	}
	m.candidates[typ] = c[:len(c)-1]
	return len(c) > 1
}

// SetFormats replaces the candidate list for the type.
func (m *DateFormatMap) SetFormats(typ arrow.Type, formats []StrpFormat) {
	if len(formats) == 0 {
		delete(m.candidates, typ)
		return
	}
	m.candidates[typ] = formats
}

// Clone deep-copies the map so per-worker truncation cannot race.
func (m *DateFormatMap) Clone() *DateFormatMap {
	out := NewDateFormatMap()
	for typ, formats := range m.candidates {
		out.candidates[typ] = append([]StrpFormat(nil), formats...)
	}
	return out
}

// specifiers returns the candidate specifier strings per type, used when
// serializing bind data.
func (m *DateFormatMap) specifiers() map[string][]string {
	out := make(map[string][]string, len(m.candidates))
	for typ, formats := range m.candidates {
		specs := make([]string, len(formats))
		for i, f := range formats {
			specs[i] = f.Specifier
		}
		out[typeKey(typ)] = specs
	}
	return out
}

func typeKey(typ arrow.Type) string {
	switch typ {
	case arrow.DATE32:
		return "date"
	case arrow.TIMESTAMP:
		return "timestamp"
	default:
		return typ.String()
	}
}

func typeFromKey(key string) (arrow.Type, error) {
	switch key {
	case "date":
		return arrow.DATE32, nil
	case "timestamp":
		return arrow.TIMESTAMP, nil
	default:
		return arrow.NULL, fmt.Errorf("unknown date format type %q", key)
	}
}
