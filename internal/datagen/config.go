// Package datagen produces a synthetic stream of detail records with
// configurable fault injection: dropped records, duplicates, delayed delivery
// and ancient timestamps. It exists to exercise every decision path of a
// running engine, not to model any real traffic mix.
package datagen

import (
	"fmt"
	"math/rand"
	"time"
)

// Config controls the shape and fault mix of the generated stream. All
// ratios are probabilities in [0, 1) applied independently per record.
type Config struct {
	// Users is the number of concurrent subscribers to simulate. Each user
	// carries at most one open session at a time.
	Users int

	// RatePerSecond caps record emission across all users.
	RatePerSecond int

	// Duration bounds the run; zero means run until interrupted.
	Duration time.Duration

	// MissingRatio is the chance a record is silently never delivered.
	MissingRatio float64

	// DupRatio is the chance a record is delivered several times.
	DupRatio float64

	// LateRatio is the chance a record is held back and delivered much later.
	LateRatio float64

	// EpochRatio is the chance a record is stamped far in the past, which a
	// correctly configured engine must reject as too old.
	EpochRatio float64

	// Offset shifts the session id space so multiple generators can run
	// against one engine without colliding.
	Offset int64

	// TargetURL is the ingest endpoint, e.g. http://localhost:8080/v1/records.
	TargetURL string
}

func (c *Config) Validate() error {
	if c.Users <= 0 {
		return fmt.Errorf("users must be > 0, got %d", c.Users)
	}
	if c.RatePerSecond <= 0 {
		return fmt.Errorf("rate must be > 0, got %d", c.RatePerSecond)
	}
	for _, r := range []struct {
		name  string
		value float64
	}{
		{"missing-ratio", c.MissingRatio},
		{"dup-ratio", c.DupRatio},
		{"late-ratio", c.LateRatio},
		{"epoch-ratio", c.EpochRatio},
	} {
		if r.value < 0 || r.value >= 1 {
			return fmt.Errorf("%s must be in [0, 1), got %v", r.name, r.value)
		}
	}
	if c.Offset < 0 {
		return fmt.Errorf("offset must be >= 0, got %d", c.Offset)
	}
	if c.TargetURL == "" {
		return fmt.Errorf("target URL is required")
	}
	return nil
}

// Fault draws decide which fault, if any, a record suffers. The draws are
// independent so a record can be both duplicated and late.

func (c *Config) ShouldDrop(rnd *rand.Rand) bool      { return rnd.Float64() < c.MissingRatio }
func (c *Config) ShouldDuplicate(rnd *rand.Rand) bool { return rnd.Float64() < c.DupRatio }
func (c *Config) ShouldDelay(rnd *rand.Rand) bool     { return rnd.Float64() < c.LateRatio }
func (c *Config) ShouldBackdate(rnd *rand.Rand) bool  { return rnd.Float64() < c.EpochRatio }
