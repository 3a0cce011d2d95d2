package tags

import (
	"log/slog"
	"strings"
)

// LocationMapping is one row of the location catalog: an exact
// (code, name) to tag assignment curated by facility operators.
// A row with an empty Name matches on code alone.
type LocationMapping struct {
	Code       string  `yaml:"code" json:"code"`
	Name       string  `yaml:"name,omitempty" json:"name,omitempty"`
	Tag        Tag     `yaml:"tag" json:"tag"`
	Confidence float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	RuleNote   string  `yaml:"rule_note,omitempty" json:"rule_note,omitempty"`
}

// Keywords holds the substring sets used to recognize location kinds when no
// catalog row matches. Matching is case-insensitive over both the location
// code and name. The sets ship with defaults and are operator-configurable;
// the mapper itself knows nothing about specific building codes.
type Keywords struct {
	Gate      []string `yaml:"gate"`
	Meeting   []string `yaml:"meeting"`
	Training  []string `yaml:"training"`
	Prep      []string `yaml:"prep"`
	Rest      []string `yaml:"rest"`
	Welfare   []string `yaml:"welfare"`
	Cafeteria []string `yaml:"cafeteria"`
	Transit   []string `yaml:"transit"`
	Takeout   []string `yaml:"takeout"`
}

// DefaultKeywords returns the shipped keyword sets.
func DefaultKeywords() Keywords {
	return Keywords{
		Gate:      []string{"MAIN GATE", "MAIN-GATE", "TURNSTILE", "SPEED GATE", "PERIMETER"},
		Meeting:   []string{"MEETING", "CONFERENCE", "CONF RM", "SEMINAR", "WAR ROOM"},
		Training:  []string{"TRAINING", "EDU", "ACADEMY", "CLASSROOM"},
		Prep:      []string{"LOCKER", "GOWNING", "SMOCK", "CHANGE RM", "AIR SHOWER"},
		Rest:      []string{"REST", "LOUNGE", "BREAK RM", "REFRESH"},
		Welfare:   []string{"CLINIC", "MEDICAL", "FITNESS", "GYM", "NURSING", "CONVENIENCE", "BANK"},
		Cafeteria: []string{"CAFETERIA", "RESTAURANT", "DINING", "MEAL"},
		Transit:   []string{"CORRIDOR", "BRIDGE", "ELEVATOR", "ELV", "STAIR", "LOBBY", "WALKWAY"},
		Takeout:   []string{"TAKEOUT", "TAKE-OUT", "TO GO", "TOGO", "GRAB"},
	}
}

type mappingKey struct {
	code string
	name string
}

// Mapper assigns a canonical tag to raw gate locations. It is pure after
// construction: catalog and keyword sets are copied in and never mutated, so
// a single Mapper is safe for concurrent use by all workers of a batch.
type Mapper struct {
	logger   *slog.Logger
	exact    map[mappingKey]Tag
	codeOnly map[string]Tag
	keywords Keywords
}

// NewMapper builds a mapper from the location catalog and keyword sets.
func NewMapper(catalog []LocationMapping, keywords Keywords, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mapper{
		logger:   logger,
		exact:    make(map[mappingKey]Tag, len(catalog)),
		codeOnly: make(map[string]Tag),
		keywords: keywords,
	}
	for _, row := range catalog {
		if !row.Tag.Valid() {
			logger.Warn("catalog row with invalid tag ignored", "code", row.Code, "tag", int(row.Tag))
			continue
		}
		if row.Name == "" {
			m.codeOnly[normalize(row.Code)] = row.Tag
			continue
		}
		m.exact[mappingKey{normalize(row.Code), normalize(row.Name)}] = row.Tag
	}
	return m
}

// Map resolves a location to its canonical tag. Rules apply in order, first
// match wins: exact catalog row, gate keywords plus direction, family
// keywords, cafeteria, transit, then the G1 fallback.
func (m *Mapper) Map(locationCode, locationName string, dir Direction) Tag {
	code := normalize(locationCode)
	name := normalize(locationName)

	if tag, ok := m.exact[mappingKey{code, name}]; ok {
		return tag
	}
	if tag, ok := m.codeOnly[code]; ok {
		return tag
	}

	if m.containsAny(code, name, m.keywords.Gate) {
		switch dir {
		case DirectionEntry:
			return T2
		case DirectionExit:
			return T3
		case DirectionNone:
			// A gate read without direction is still a perimeter crossing;
			// treat it as entry, the classifier's rule table sorts it out.
			return T2
		}
	}

	switch {
	case m.containsAny(code, name, m.keywords.Meeting):
		return G3
	case m.containsAny(code, name, m.keywords.Training):
		return G4
	case m.containsAny(code, name, m.keywords.Prep):
		return G2
	case m.containsAny(code, name, m.keywords.Rest):
		return N1
	case m.containsAny(code, name, m.keywords.Welfare):
		return N2
	case m.containsAny(code, name, m.keywords.Cafeteria):
		return M1
	case m.containsAny(code, name, m.keywords.Transit):
		return T1
	}

	m.logger.Debug("unmapped location falls through to G1", "code", locationCode, "name", locationName)
	return G1
}

func (m *Mapper) containsAny(code, name string, keywords []string) bool {
	for _, kw := range keywords {
		k := normalize(kw)
		if k == "" {
			continue
		}
		if strings.Contains(code, k) || strings.Contains(name, k) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
