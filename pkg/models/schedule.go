package models

import "errors"

// ScheduleFrequency is how often a scheduled automation recurs.
type ScheduleFrequency string

const (
	FrequencyHourly ScheduleFrequency = "hourly"
	FrequencyDaily  ScheduleFrequency = "daily"
	FrequencyWeekly ScheduleFrequency = "weekly"
)

// ScheduleSettings is the fully-defaulted, strictly-typed recurring schedule
// for one automation. Loose wire payloads are normalized into this shape by
// the schedule package; TimeOfDay is always zero-padded 24h "HH:MM" and
// DayOfWeek is always lower case.
type ScheduleSettings struct {
	Code      string            `json:"code,omitempty"`
	Enabled   bool              `json:"enabled"`
	Frequency ScheduleFrequency `json:"frequency"`
	TimeOfDay string            `json:"time_of_day"`
	DayOfWeek string            `json:"day_of_week"`
	Timezone  string            `json:"timezone"`
}

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// Validate checks the invariants the normalizer guarantees. It exists for
// payloads that bypass normalization (e.g. rows read from storage).
func (s *ScheduleSettings) Validate() error {
	switch s.Frequency {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly:
	default:
		return ErrInvalidSchedule
	}

	if len(s.TimeOfDay) != 5 || s.TimeOfDay[2] != ':' {
		return ErrInvalidSchedule
	}

	return nil
}
