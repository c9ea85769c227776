package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// MinInterval is the shortest interval Every accepts.
const MinInterval = time.Millisecond

type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// Every fires at a fixed interval. Unlike cron.Every it keeps sub-second
// precision. Intervals below MinInterval, zero and negative ones included,
// are raised to MinInterval.
func Every(d time.Duration) cron.Schedule {
	if d < MinInterval {
		d = MinInterval
	}
	return every(d)
}

// ParseSchedule builds a schedule from a cron spec when one is given and from
// the interval otherwise.
func ParseSchedule(interval time.Duration, spec string) (cron.Schedule, error) {
	if spec != "" {
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
		}
		return schedule, nil
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive when no cron spec is set")
	}
	return Every(interval), nil
}
