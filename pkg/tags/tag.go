// Package tags defines the canonical location-tag vocabulary and the
// keyword-driven mapper that assigns a tag to every raw gate location.
package tags

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Tag is a canonical symbol describing the kind of a timestamped event's
// location or activity. The set is closed; every raw event maps to exactly
// one Tag.
type Tag int

const (
	G1 Tag = iota // main work area
	G2            // work preparation (lockers, gowning)
	G3            // meeting / collaboration
	G4            // training
	N1            // rest / break area
	N2            // welfare / convenience
	T1            // corridor / elevator transit
	T2            // perimeter entry
	T3            // perimeter exit
	M1            // dine-in meal
	M2            // take-out meal
	O             // confirmed work (equipment operation or activity log)
)

// All is the full canonical tag set in declaration order.
var All = []Tag{G1, G2, G3, G4, N1, N2, T1, T2, T3, M1, M2, O}

var tagNames = map[Tag]string{
	G1: "G1", G2: "G2", G3: "G3", G4: "G4",
	N1: "N1", N2: "N2",
	T1: "T1", T2: "T2", T3: "T3",
	M1: "M1", M2: "M2",
	O: "O",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

// Valid reports whether t is a member of the canonical set.
func (t Tag) Valid() bool {
	_, ok := tagNames[t]
	return ok
}

// IsWorkArea reports whether t marks a work-family location (G1-G4).
func (t Tag) IsWorkArea() bool {
	switch t {
	case G1, G2, G3, G4:
		return true
	case N1, N2, T1, T2, T3, M1, M2, O:
		return false
	}
	return false
}

// IsMeal reports whether t is a cafeteria tag.
func (t Tag) IsMeal() bool {
	return t == M1 || t == M2
}

// IsTransit reports whether t belongs to the T series. Tailgating detection
// and the gap cap in sequence building key off this.
func (t Tag) IsTransit() bool {
	return t == T1 || t == T2 || t == T3
}

// IsAmenity reports whether t is a rest or welfare tag.
func (t Tag) IsAmenity() bool {
	return t == N1 || t == N2
}

// ParseTag resolves a canonical tag name such as "G1" or "O".
func ParseTag(s string) (Tag, error) {
	for tag, name := range tagNames {
		if name == s {
			return tag, nil
		}
	}
	return G1, fmt.Errorf("unknown tag %q", s)
}

// MarshalJSON renders the tag as its canonical name.
func (t Tag) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON parses a canonical tag name.
func (t *Tag) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseTag(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML renders the tag as its canonical name, so catalog files read
// "tag: G3" rather than a bare integer.
func (t Tag) MarshalYAML() (any, error) {
	return t.String(), nil
}

// UnmarshalYAML parses a canonical tag name from a catalog or rules file.
func (t *Tag) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseTag(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Direction is the gate read direction carried by perimeter and door events.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionEntry
	DirectionExit
)

func (d Direction) String() string {
	switch d {
	case DirectionEntry:
		return "entry"
	case DirectionExit:
		return "exit"
	case DirectionNone:
		return "none"
	}
	return "none"
}

// ParseDirection accepts the source-system spellings for gate direction.
// Unknown values mean "none"; gate hardware is inconsistent about this field.
func ParseDirection(s string) Direction {
	switch s {
	case "entry", "in", "IN", "I":
		return DirectionEntry
	case "exit", "out", "OUT", "E":
		return DirectionExit
	default:
		return DirectionNone
	}
}
