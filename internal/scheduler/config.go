package scheduler

import "time"

// Config controls the payout job.
type Config struct {
	RunInterval  time.Duration
	LookbackDays int
	Timeout      time.Duration
}

// DefaultConfig runs hourly over the last three whole days.
func DefaultConfig() Config {
	return Config{
		RunInterval:  time.Hour,
		LookbackDays: 3,
		Timeout:      10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = defaults.LookbackDays
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	return c
}
