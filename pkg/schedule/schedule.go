// Package schedule normalizes per-automation recurring-schedule settings and
// compiles them to cron expressions for next-run computation.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/robfig/cron/v3"
)

// Defaults applied field-by-field when a payload value is missing or invalid.
const (
	DefaultTimeOfDay = "09:00"
	DefaultDayOfWeek = "monday"
)

var weekdays = map[string]int{
	"sunday":    0,
	"monday":    1,
	"tuesday":   2,
	"wednesday": 3,
	"thursday":  4,
	"friday":    5,
	"saturday":  6,
}

// Key aliases the settings payload has carried over time.
var (
	enabledKeys   = []string{"enabled", "active", "auto", "automatic"}
	frequencyKeys = []string{"frequency", "interval", "cadence"}
	timeKeys      = []string{"time_of_day", "timeOfDay", "time", "at"}
	dayKeys       = []string{"day_of_week", "dayOfWeek", "weekday", "day"}
	timezoneKeys  = []string{"timezone", "tz"}
)

// Normalize converts a loosely-typed schedule payload into fully-defaulted,
// strictly-typed settings. Every field falls back independently, so one
// malformed value never poisons the rest. Normalization is stable:
// Normalize(WirePayload(Normalize(raw))) == Normalize(raw).
func Normalize(payload map[string]any) models.ScheduleSettings {
	return Merge(models.ScheduleSettings{
		Enabled:   false,
		Frequency: models.FrequencyDaily,
		TimeOfDay: DefaultTimeOfDay,
		DayOfWeek: DefaultDayOfWeek,
		Timezone:  localZone(),
	}, payload)
}

// Merge applies payload fields onto existing settings. Fields the payload
// does not carry keep their current value, so a partial update never resets
// the rest to defaults.
func Merge(settings models.ScheduleSettings, payload map[string]any) models.ScheduleSettings {
	if payload == nil {
		return settings
	}

	if code, ok := payload["code"].(string); ok {
		settings.Code = code
	}

	for _, key := range enabledKeys {
		if value, ok := asBool(payload[key]); ok {
			settings.Enabled = value

			break
		}
	}

	for _, key := range frequencyKeys {
		if raw, ok := payload[key].(string); ok {
			switch models.ScheduleFrequency(strings.ToLower(strings.TrimSpace(raw))) {
			case models.FrequencyHourly:
				settings.Frequency = models.FrequencyHourly
			case models.FrequencyDaily:
				settings.Frequency = models.FrequencyDaily
			case models.FrequencyWeekly:
				settings.Frequency = models.FrequencyWeekly
			}

			break
		}
	}

	for _, key := range timeKeys {
		if raw, ok := payload[key].(string); ok && raw != "" {
			settings.TimeOfDay = SanitizeTime(raw)

			break
		}
	}

	for _, key := range dayKeys {
		if raw, ok := payload[key].(string); ok {
			day := strings.ToLower(strings.TrimSpace(raw))
			if _, known := weekdays[day]; known {
				settings.DayOfWeek = day
			}

			break
		}
	}

	for _, key := range timezoneKeys {
		if raw, ok := payload[key].(string); ok && raw != "" {
			if _, err := time.LoadLocation(raw); err == nil {
				settings.Timezone = raw
			}

			break
		}
	}

	return settings
}

// WirePayload renders settings in the canonical wire shape.
func WirePayload(settings models.ScheduleSettings) map[string]any {
	payload := map[string]any{
		"enabled":     settings.Enabled,
		"frequency":   string(settings.Frequency),
		"time_of_day": settings.TimeOfDay,
		"day_of_week": settings.DayOfWeek,
		"timezone":    settings.Timezone,
	}

	if settings.Code != "" {
		payload["code"] = settings.Code
	}

	return payload
}

// SanitizeTime normalizes a time-of-day string to zero-padded 24-hour
// "HH:MM". Out-of-range components are clamped rather than rejected:
// "25:99" becomes "23:59", a bare "9" becomes "09:00".
func SanitizeTime(raw string) string {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)

	hour := clampComponent(parts[0], 23)

	minute := 0
	if len(parts) > 1 {
		minute = clampComponent(parts[1], 59)
	}

	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// CronExpression compiles settings to a standard 5-field cron expression.
func CronExpression(settings models.ScheduleSettings) string {
	hour, minute := timeComponents(settings.TimeOfDay)

	switch settings.Frequency {
	case models.FrequencyHourly:
		return fmt.Sprintf("%d * * * *", minute)
	case models.FrequencyWeekly:
		day, known := weekdays[settings.DayOfWeek]
		if !known {
			day = weekdays[DefaultDayOfWeek]
		}

		return fmt.Sprintf("%d %d * * %d", minute, hour, day)
	default:
		return fmt.Sprintf("%d %d * * *", minute, hour)
	}
}

// NextRun computes the next execution time after the reference instant, in
// the schedule's timezone.
func NextRun(settings models.ScheduleSettings, after time.Time) (time.Time, error) {
	location, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		location = time.Local
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	compiled, err := parser.Parse(CronExpression(settings))
	if err != nil {
		return time.Time{}, err
	}

	return compiled.Next(after.In(location)), nil
}

func timeComponents(timeOfDay string) (int, int) {
	parts := strings.SplitN(timeOfDay, ":", 2)

	hour, _ := strconv.Atoi(parts[0])

	minute := 0
	if len(parts) > 1 {
		minute, _ = strconv.Atoi(parts[1])
	}

	return hour, minute
}

func clampComponent(raw string, max int) int {
	digits := strings.TrimSpace(raw)

	value, err := strconv.Atoi(digits)
	if err != nil || value < 0 {
		return 0
	}

	if value > max {
		return max
	}

	return value
}

func asBool(value any) (bool, bool) {
	switch typed := value.(type) {
	case bool:
		return typed, true
	case string:
		switch strings.ToLower(typed) {
		case "true", "yes", "1", "on":
			return true, true
		case "false", "no", "0", "off":
			return false, true
		}
	}

	return false, false
}

func localZone() string {
	zone := time.Now().Location().String()
	if zone == "" || zone == "Local" {
		return "UTC"
	}

	return zone
}
