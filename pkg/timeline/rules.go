package timeline

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/tags"
)

// Pattern matches a tag position in a rule: either one concrete tag or the
// wildcard. The zero value matches G1 only; use Any for the wildcard.
type Pattern struct {
	Tag tags.Tag
	Any bool
}

// Any is the wildcard pattern.
var Any = Pattern{Any: true}

// On builds a pattern matching exactly t.
func On(t tags.Tag) Pattern {
	return Pattern{Tag: t}
}

// Matches reports whether the pattern accepts t.
func (p Pattern) Matches(t tags.Tag) bool {
	return p.Any || p.Tag == t
}

func (p Pattern) String() string {
	if p.Any {
		return "*"
	}
	return p.Tag.String()
}

// Rule is one row of the classification table. From guards the previous
// event's tag, To the current one; Window restricts the current event's
// time of day, MinMinutes/MaxMinutes its duration (zero means unguarded).
type Rule struct {
	Priority   int
	From       Pattern
	To         Pattern
	Window     *events.ClockWindow
	MinMinutes float64
	MaxMinutes float64
	State      ActivityState
	Confidence float64
}

// matches reports whether the rule fires for a transition. prev is nil for
// the first event of a day; only wildcard From patterns accept it.
func (r Rule) matches(prev *tags.Tag, cur tags.Tag, minuteOfDay int, durationMinutes float64) bool {
	if prev == nil {
		if !r.From.Any {
			return false
		}
	} else if !r.From.Matches(*prev) {
		return false
	}
	if !r.To.Matches(cur) {
		return false
	}
	if r.Window != nil && !r.Window.Contains(minuteOfDay) {
		return false
	}
	if r.MinMinutes > 0 && durationMinutes < r.MinMinutes {
		return false
	}
	if r.MaxMinutes > 0 && durationMinutes > r.MaxMinutes {
		return false
	}
	return true
}

// RuleTable is the priority-ordered classification table. It is immutable
// after construction and safe for concurrent use by all workers.
type RuleTable struct {
	rules []Rule
}

// NewRuleTable sorts the rules by ascending priority, preserving declaration
// order within a priority, and freezes them.
func NewRuleTable(rules []Rule) *RuleTable {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &RuleTable{rules: sorted}
}

// Len returns the number of rules in the table.
func (t *RuleTable) Len() int {
	return len(t.rules)
}

// Match walks the table in priority order and returns the first firing
// rule's state and base confidence. A table with no matching row falls back
// to UNKNOWN at 0.50, so classification is total even for a custom table
// that forgot its catch-all.
func (t *RuleTable) Match(prev *tags.Tag, cur tags.Tag, minuteOfDay int, durationMinutes float64) (ActivityState, float64) {
	for _, r := range t.rules {
		if r.matches(prev, cur, minuteOfDay, durationMinutes) {
			return r.State, r.Confidence
		}
	}
	return StateUnknown, unknownConfidence
}

func window(startHour, startMin, endHour, endMin int) *events.ClockWindow {
	return &events.ClockWindow{Start: startHour*60 + startMin, End: endHour*60 + endMin}
}

// DefaultRules returns the shipped classification table. Meal tags never
// reach it (the classifier fixes their state from the meal window first);
// the rows at priorities 16, 18, 25, and 35 make every family reachable
// from any predecessor so a day can open on any tag.
func DefaultRules() []Rule {
	return []Rule{
		{Priority: 1, From: Any, To: On(tags.O), State: StateWorkConfirmed, Confidence: 0.98},
		{Priority: 1, From: On(tags.O), To: On(tags.O), State: StateWorkConfirmed, Confidence: 0.98},
		{Priority: 2, From: On(tags.O), To: On(tags.G1), State: StateWork, Confidence: 0.95},
		{Priority: 5, From: On(tags.T2), To: On(tags.G2), Window: window(7, 0, 9, 0), State: StatePreparation, Confidence: 0.90},
		{Priority: 5, From: On(tags.G1), To: On(tags.T3), Window: window(19, 0, 21, 0), State: StateExit, Confidence: 0.90},
		{Priority: 10, From: Any, To: On(tags.T2), State: StateEntry, Confidence: 0.90},
		{Priority: 10, From: Any, To: On(tags.T3), State: StateExit, Confidence: 0.90},
		{Priority: 15, From: On(tags.G1), To: On(tags.G3), State: StateMeeting, Confidence: 0.90},
		{Priority: 15, From: On(tags.G3), To: On(tags.G3), MinMinutes: 10, State: StateMeeting, Confidence: 0.95},
		{Priority: 15, From: On(tags.G1), To: On(tags.G4), State: StateEducation, Confidence: 0.90},
		{Priority: 16, From: Any, To: On(tags.G3), State: StateMeeting, Confidence: 0.85},
		{Priority: 16, From: Any, To: On(tags.G4), State: StateEducation, Confidence: 0.85},
		{Priority: 18, From: Any, To: On(tags.G2), State: StatePreparation, Confidence: 0.80},
		{Priority: 20, From: On(tags.G1), To: On(tags.N1), State: StateRest, Confidence: 0.80},
		{Priority: 20, From: On(tags.N1), To: On(tags.G1), State: StateWork, Confidence: 0.80},
		{Priority: 25, From: Any, To: On(tags.N1), State: StateRest, Confidence: 0.75},
		{Priority: 25, From: Any, To: On(tags.N2), State: StateNonWork, Confidence: 0.75},
		{Priority: 30, From: On(tags.T1), To: On(tags.T1), MaxMinutes: 30, State: StateTransit, Confidence: 0.70},
		{Priority: 30, From: On(tags.G1), To: On(tags.T1), State: StateTransit, Confidence: 0.80},
		{Priority: 35, From: Any, To: On(tags.T1), State: StateTransit, Confidence: 0.70},
		{Priority: 40, From: Any, To: On(tags.G1), State: StateWork, Confidence: 0.70},
		{Priority: 99, From: Any, To: Any, State: StateUnknown, Confidence: 0.50},
	}
}

type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Priority   int          `yaml:"priority"`
	From       string       `yaml:"from"`
	To         string       `yaml:"to"`
	Window     *windowEntry `yaml:"window,omitempty"`
	MinMinutes float64      `yaml:"min_minutes,omitempty"`
	MaxMinutes float64      `yaml:"max_minutes,omitempty"`
	State      string       `yaml:"state"`
	Confidence float64      `yaml:"confidence"`
}

type windowEntry struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// ParseRules reads a rule table from its YAML form. Patterns are tag names
// or "*"; windows are HH:MM pairs.
func ParseRules(data []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("parsing rules: no rules defined")
	}
	rules := make([]Rule, 0, len(file.Rules))
	for i, entry := range file.Rules {
		rule, err := entry.toRule()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRulesFile reads path and parses it with ParseRules.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return ParseRules(data)
}

func (e ruleEntry) toRule() (Rule, error) {
	rule := Rule{
		Priority:   e.Priority,
		MinMinutes: e.MinMinutes,
		MaxMinutes: e.MaxMinutes,
		Confidence: e.Confidence,
	}
	var err error
	if rule.From, err = parsePattern(e.From); err != nil {
		return Rule{}, err
	}
	if rule.To, err = parsePattern(e.To); err != nil {
		return Rule{}, err
	}
	if rule.State, err = ParseActivityState(e.State); err != nil {
		return Rule{}, err
	}
	if rule.Confidence <= 0 || rule.Confidence > 1 {
		return Rule{}, fmt.Errorf("confidence %v outside (0, 1]", e.Confidence)
	}
	if e.Window != nil {
		start, err := events.ParseMinuteOfDay(e.Window.Start)
		if err != nil {
			return Rule{}, err
		}
		end, err := events.ParseMinuteOfDay(e.Window.End)
		if err != nil {
			return Rule{}, err
		}
		rule.Window = &events.ClockWindow{Start: start, End: end}
	}
	return rule, nil
}

func parsePattern(s string) (Pattern, error) {
	if s == "*" || s == "" {
		return Any, nil
	}
	tag, err := tags.ParseTag(s)
	if err != nil {
		return Pattern{}, err
	}
	return On(tag), nil
}
