// Package clock implements the UniversalClock shared by every
// PolicyEnforcer instance on a host (spec §4.1).
package clock

import "errors"

// ErrBadParams is returned by New when epochLength is zero.
var ErrBadParams = errors.New("clock: epoch_length must be > 0")

// Clock is an immutable (epoch_length, genesis_ts) pair. All of its
// methods are pure functions of that configuration and a caller-supplied
// "now" — the clock never reads the wall clock itself, so callers get a
// deterministic, replayable kernel.
type Clock struct {
	epochLength uint64
	genesisTS   uint64
}

// New constructs a Clock. epochLength must be greater than zero.
func New(epochLength, genesisTS uint64) (*Clock, error) {
	if epochLength == 0 {
		return nil, ErrBadParams
	}
	return &Clock{epochLength: epochLength, genesisTS: genesisTS}, nil
}

// EpochLength returns the configured epoch length in seconds.
func (c *Clock) EpochLength() uint64 { return c.epochLength }

// GenesisTS returns the configured genesis timestamp.
func (c *Clock) GenesisTS() uint64 { return c.genesisTS }

// CurrentEpoch returns (now - genesis_ts) / epoch_length, the integer
// epoch index for now. now values before genesis are treated as epoch 0.
func (c *Clock) CurrentEpoch(now uint64) uint64 {
	if now <= c.genesisTS {
		return 0
	}
	return (now - c.genesisTS) / c.epochLength
}

// EpochStart returns the timestamp at which epoch e began.
func (c *Clock) EpochStart(e uint64) uint64 {
	return c.genesisTS + e*c.epochLength
}

// SecondsUntilNextEpoch returns how many seconds remain in the epoch
// containing now.
func (c *Clock) SecondsUntilNextEpoch(now uint64) uint64 {
	current := c.CurrentEpoch(now)
	nextStart := c.EpochStart(current + 1)
	if now >= nextStart {
		return 0
	}
	return nextStart - now
}
