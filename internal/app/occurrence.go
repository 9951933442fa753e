package app

import (
	"strings"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/domain/event"
	"github.com/sayasufi/timekeeper-tg/internal/infra/logger"

	"github.com/teambition/rrule-go"
)

// Calculator computes concrete occurrence instants for an event from its start
// time, optional recurrence rule and exclusion set. It is an interface so the
// rule grammar/engine can be swapped without touching the due index or the
// dispatcher.
type Calculator interface {
	// OccurrencesBetween returns all occurrences in [start, end), sorted
	// ascending, with excluded instants dropped.
	OccurrencesBetween(ev *event.Event, start, end time.Time) []time.Time
	// NextOccurrence returns the nearest occurrence at or after `after`.
	// An excluded nearest instant is skipped in favor of the rule's next one.
	NextOccurrence(ev *event.Event, after time.Time) (time.Time, bool)
}

// RRuleCalculator expands RFC 5545 recurrence rules using teambition/rrule-go.
// The rule is always anchored at the event's own start instant; all returned
// instants are UTC.
//
// A malformed rule yields zero occurrences rather than an error: a broken rule
// silently stops a recurring reminder, which matches how event edits are
// expected to behave, but it is logged at warn level so a dead rule is visible.
type RRuleCalculator struct{}

func NewRRuleCalculator() *RRuleCalculator {
	return &RRuleCalculator{}
}

func (c *RRuleCalculator) OccurrencesBetween(ev *event.Event, start, end time.Time) []time.Time {
	start = start.UTC()
	end = end.UTC()
	if !end.After(start) {
		return nil
	}

	eventStart := ev.StartsAt.UTC()
	if !ev.RRule.Valid || ev.RRule.String == "" {
		if !eventStart.Before(start) && eventStart.Before(end) && !ev.IsExcluded(eventStart) {
			return []time.Time{eventStart}
		}
		return nil
	}

	rule, err := c.parseRule(ev)
	if err != nil {
		return nil
	}

	occurrences := rule.Between(start, end, true)
	result := make([]time.Time, 0, len(occurrences))
	for _, occ := range occurrences {
		occ = occ.UTC()
		// Between is inclusive of both bounds; the window is half-open.
		if !occ.Before(end) {
			continue
		}
		if ev.IsExcluded(occ) {
			continue
		}
		result = append(result, occ)
	}
	return result
}

func (c *RRuleCalculator) NextOccurrence(ev *event.Event, after time.Time) (time.Time, bool) {
	after = after.UTC()
	eventStart := ev.StartsAt.UTC()

	if !ev.RRule.Valid || ev.RRule.String == "" {
		if !eventStart.Before(after) && !ev.IsExcluded(eventStart) {
			return eventStart, true
		}
		return time.Time{}, false
	}

	rule, err := c.parseRule(ev)
	if err != nil {
		return time.Time{}, false
	}

	next := rule.After(after, true)
	if next.IsZero() {
		return time.Time{}, false
	}
	next = next.UTC()
	if ev.IsExcluded(next) {
		// Skip a single excluded instant forward; if the one after it is
		// excluded too, give up rather than scan the whole rule.
		later := rule.After(next, false)
		if later.IsZero() {
			return time.Time{}, false
		}
		next = later.UTC()
		if ev.IsExcluded(next) {
			return time.Time{}, false
		}
	}
	return next, true
}

func (c *RRuleCalculator) parseRule(ev *event.Event) (*rrule.RRule, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(ev.RRule.String), "RRULE:")
	option, err := rrule.StrToROption(raw)
	if err != nil {
		logger.Log.WithField("event_id", ev.ID).Warnf("Malformed recurrence rule %q: %v", ev.RRule.String, err)
		return nil, err
	}
	option.Dtstart = ev.StartsAt.UTC()
	rule, err := rrule.NewRRule(*option)
	if err != nil {
		logger.Log.WithField("event_id", ev.ID).Warnf("Malformed recurrence rule %q: %v", ev.RRule.String, err)
		return nil, err
	}
	return rule, nil
}
