// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "code.hybscloud.com/heap/internal"

// Config holds the allocator's compile-time-style knobs. Every field has
// a sane zero value; construct one with options and pass it to New
// rather than through a generic flag map.
type Config struct {
	// Boost widens the tiny front-end from 8 to 16 size classes (up to
	// 272 B instead of 128 B, as the class table has no 144 B class)
	// and from 8 to 32 arenas per class.
	Boost bool

	// PauseMore multiplies every lock's bounded spin count, trading
	// latency under light contention for fewer OS yields under heavy
	// contention.
	PauseMore bool

	// NoRemap forces large-block growth/shrink to always go through
	// allocate/copy/free, even on platforms whose page provider
	// supports in-place remap. Useful for testing the fallback path.
	NoRemap bool

	// ReportLeaks poisons the first payload word on free (to turn
	// dangling references into an immediate crash instead of silent
	// corruption) and is intended to be paired with an external
	// end-of-process leak walk; this module only provides the
	// poisoning half, see SPEC_FULL.md.
	ReportLeaks bool

	// Debug enables peak-byte and cumulative-call statistics on top of
	// the always-on counters. Sleep time is not measured: the lock's
	// yield fallback records every sleep with a duration of zero, so
	// CumulativeSleepMicros stays 0.
	Debug bool

	// SpinFactor scales every lock class's bounded spin count. Zero
	// selects the architecture's baseline (internal.SpinFactorBaseline).
	SpinFactor int
}

// DefaultConfig returns the zero-value configuration augmented with the
// architecture's baseline spin factor.
func DefaultConfig() Config {
	return Config{SpinFactor: internal.SpinFactorBaseline}
}

// Option mutates a Config during New.
type Option func(*Config)

// WithBoost enables the wider tiny front-end.
func WithBoost() Option { return func(c *Config) { c.Boost = true } }

// WithPauseMore raises the spin budget of every lock class.
func WithPauseMore() Option { return func(c *Config) { c.PauseMore = true } }

// WithNoRemap disables in-place large-block remap even when the
// platform's page provider supports it.
func WithNoRemap() Option { return func(c *Config) { c.NoRemap = true } }

// WithReportLeaks enables free-time payload poisoning.
func WithReportLeaks() Option { return func(c *Config) { c.ReportLeaks = true } }

// WithDebug enables the debug-only statistics fields.
func WithDebug() Option { return func(c *Config) { c.Debug = true } }

// WithSpinFactor overrides the architecture's baseline spin factor.
func WithSpinFactor(factor int) Option {
	return func(c *Config) { c.SpinFactor = factor }
}

func (c Config) effectiveSpinFactor() int {
	factor := c.SpinFactor
	if factor <= 0 {
		factor = internal.SpinFactorBaseline
	}
	if c.PauseMore {
		factor *= 4
	}
	return factor
}
