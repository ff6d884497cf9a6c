package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stockwatch_backend/models"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule marks an expression that cannot be parsed or never
// fires within the search horizon. Rejected at configuration time so the
// ticker only ever sees valid schedules.
var ErrInvalidSchedule = errors.New("invalid schedule expression")

// horizon bounds the forward search for the next fire time. An expression
// that matches nothing within it (e.g. "0 0 30 2 *") is treated as invalid.
const horizon = 4 * 365 * 24 * time.Hour

// ScheduleSource tags where an effective schedule came from in the
// override chain, so precedence stays testable in isolation.
type ScheduleSource string

const (
	SourceOverride      ScheduleSource = "override"
	SourceAgentDefault  ScheduleSource = "agent_default"
	SourceSystemDefault ScheduleSource = "system_default"
)

// SystemDefaultSchedule applies when neither the override nor the agent
// carries a schedule. Hourly on the hour.
const SystemDefaultSchedule = "0 * * * *"

// cronParser accepts the standard 5-field form: minute, hour, day-of-month,
// month, day-of-week. Day-of-month and day-of-week are OR-ed when both are
// restricted and AND-ed when at least one is a wildcard (cron convention).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Resolver turns schedule expressions into fire times in a fixed timezone.
type Resolver struct {
	loc *time.Location
}

// NewResolver creates a resolver computing fire times in loc.
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Location returns the resolver's timezone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// EffectiveSchedule resolves the schedule governing an (agent, instrument)
// pair: override if non-empty, else agent default, else system default.
func EffectiveSchedule(agent *models.AgentDefinition, override *models.InstrumentAgent) (string, ScheduleSource) {
	if override != nil && strings.TrimSpace(override.Schedule) != "" {
		return strings.TrimSpace(override.Schedule), SourceOverride
	}
	if agent != nil && strings.TrimSpace(agent.Schedule) != "" {
		return strings.TrimSpace(agent.Schedule), SourceAgentDefault
	}
	return SystemDefaultSchedule, SourceSystemDefault
}

// intervalSchedule implements cron.Schedule for the "interval:5m" shorthand.
type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.every - time.Duration(t.UnixNano())%s.every)
}

// parse turns an expression into a cron.Schedule. Supports the 5-field cron
// form and the "interval:30s|5m|1h" shorthand.
func (r *Resolver) parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}

	if rest, ok := strings.CutPrefix(expr, "interval:"); ok {
		d, err := parseInterval(rest)
		if err != nil {
			return nil, err
		}
		return intervalSchedule{every: d}, nil
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return sched, nil
}

func parseInterval(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if len(value) < 2 {
		return 0, fmt.Errorf("%w: interval %q", ErrInvalidSchedule, value)
	}
	n, err := strconv.Atoi(value[:len(value)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: interval %q", ErrInvalidSchedule, value)
	}
	switch value[len(value)-1] {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: interval %q", ErrInvalidSchedule, value)
}

// Validate checks an expression at configuration time.
func (r *Resolver) Validate(expr string) error {
	sched, err := r.parse(expr)
	if err != nil {
		return err
	}
	now := time.Now().In(r.loc)
	next := sched.Next(now)
	if next.IsZero() || next.Sub(now) > horizon {
		return fmt.Errorf("%w: no fire time within horizon", ErrInvalidSchedule)
	}
	return nil
}

// NextRuns returns up to n fire times strictly after from, strictly
// increasing. Fails with ErrInvalidSchedule when the expression cannot be
// parsed or matches no future time within the horizon.
func (r *Resolver) NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	sched, err := r.parse(expr)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	limit := from.Add(horizon)
	runs := make([]time.Time, 0, n)
	t := from.In(r.loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() || t.After(limit) {
			if len(runs) == 0 {
				return nil, fmt.Errorf("%w: no fire time within horizon", ErrInvalidSchedule)
			}
			break
		}
		runs = append(runs, t)
	}
	return runs, nil
}

// DueBetween reports whether the expression fires in (from, to]. The ticker
// uses it with (lastTick, now] so every fire time is claimed exactly once.
func (r *Resolver) DueBetween(expr string, from, to time.Time) bool {
	sched, err := r.parse(expr)
	if err != nil {
		return false
	}
	next := sched.Next(from.In(r.loc))
	return !next.IsZero() && !next.After(to)
}

// CountRunsWithin counts fire times in (from, from+window], capped to
// avoid unbounded stepping for very frequent schedules.
func (r *Resolver) CountRunsWithin(expr string, from time.Time, window time.Duration) int {
	const maxSteps = 2000
	sched, err := r.parse(expr)
	if err != nil {
		return 0
	}
	end := from.Add(window)
	count := 0
	t := from.In(r.loc)
	for count < maxSteps {
		t = sched.Next(t)
		if t.IsZero() || t.After(end) {
			break
		}
		count++
	}
	return count
}
