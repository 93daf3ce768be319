package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"saaskit/internal/types"
)

// namedIntervals maps the recurring interval tags accepted by the API to
// cron specifications. The tags are opaque to the scheduler itself; only
// the worker resolves them into run times.
var namedIntervals = map[string]string{
	"every-5-minutes":  "@every 5m",
	"every-15-minutes": "@every 15m",
	"every-30-minutes": "@every 30m",
	"hourly":           "@hourly",
	"daily":            "@daily",
	"weekly":           "@weekly",
	"monthly":          "@monthly",
}

// everyMinutesPattern accepts the generic "every-N-minutes" form.
var everyMinutesPattern = regexp.MustCompile(`^every-(\d+)-minutes$`)

// intervalParser also accepts raw cron expressions for advanced callers.
var intervalParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextRun resolves a named interval (or raw cron expression) into the next
// run time strictly after the given anchor.
func NextRun(interval string, after time.Time) (time.Time, error) {
	schedule, err := parseInterval(interval)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}

func parseInterval(interval string) (cron.Schedule, error) {
	spec, ok := namedIntervals[interval]
	if !ok {
		if m := everyMinutesPattern.FindStringSubmatch(interval); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				return nil, types.NewAppError(types.ErrCodeValidationInterval,
					fmt.Sprintf("invalid interval %q", interval), err)
			}
			spec = fmt.Sprintf("@every %dm", n)
		} else {
			spec = interval
		}
	}

	schedule, err := intervalParser.Parse(spec)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInterval,
			fmt.Sprintf("unrecognized recurring interval %q", interval), err)
	}
	return schedule, nil
}
