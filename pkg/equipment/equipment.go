// Package equipment derives confirmed-work tag events from equipment
// operation and explicit activity logs.
package equipment

import (
	"log/slog"

	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/tags"
)

// Source converts activity/equipment log entries into O events. An O tag is
// the strongest work evidence the pipeline has: the classifier promotes it to
// WORK_CONFIRMED and boosts neighbors.
type Source struct {
	logger *slog.Logger
}

// NewSource builds the equipment event source.
func NewSource(logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{logger: logger}
}

// Events emits one O event per log entry, in input order. The log's own
// duration rides along as a hint; it never overrides gap-based durations
// mid-sequence and only feeds the last-event rule.
func (s *Source) Events(logs []events.EquipmentLog) []events.TaggedEvent {
	if len(logs) == 0 {
		return nil
	}
	out := make([]events.TaggedEvent, 0, len(logs))
	for _, entry := range logs {
		hint := entry.DurationMinutes
		if hint < 0 {
			s.logger.Debug("negative equipment duration ignored", "employee", entry.EmployeeID, "minutes", hint)
			hint = 0
		}
		out = append(out, events.TaggedEvent{
			EmployeeID:   entry.EmployeeID,
			Timestamp:    entry.Timestamp,
			Source:       events.SourceEquipment,
			RawLocation:  entry.ActivityType,
			Tag:          tags.O,
			DurationHint: hint,
		})
	}
	return out
}
