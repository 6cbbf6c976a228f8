package handles

import (
	"time"

	"github.com/eigerco/refstore/pkg/db"
)

const (
	// DefaultRefreshWindow bounds how long one iterator may pin a snapshot.
	DefaultRefreshWindow = 300 * time.Second

	// DefaultReportInterval is how often a long lived iterator is logged.
	DefaultReportInterval = 300 * time.Second
)

// Config carries the per-database tunables for handles derived from it.
type Config struct {
	RefreshWindow  time.Duration
	ReportInterval time.Duration
	// Now is the clock used for staleness deadlines.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		RefreshWindow:  DefaultRefreshWindow,
		ReportInterval: DefaultReportInterval,
		Now:            time.Now,
	}
}

func (c Config) withDefaults() Config {
	if c.RefreshWindow <= 0 {
		c.RefreshWindow = DefaultRefreshWindow
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = DefaultReportInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// ReadOptions configure an iterator.
type ReadOptions struct {
	LowerBound []byte
	UpperBound []byte
	// KeysOnly iterators never read values.
	KeysOnly bool
	// Refresh rebuilds the iterator on a fresh snapshot once the refresh
	// window has passed.
	Refresh bool
}

func (o ReadOptions) iterOptions() db.IterOptions {
	return db.IterOptions{
		LowerBound: o.LowerBound,
		UpperBound: o.UpperBound,
	}
}

// Action is an iterator movement.
type Action uint8

const (
	First Action = iota
	Last
	Next
	Prev
	Seek
)

func (a Action) String() string {
	switch a {
	case First:
		return "first"
	case Last:
		return "last"
	case Next:
		return "next"
	case Prev:
		return "prev"
	case Seek:
		return "seek"
	default:
		return "unknown"
	}
}

// relative actions depend on the current position.
func (a Action) relative() bool {
	return a == Next || a == Prev
}

// Entry is the outcome of a move. Key and Value are copies owned by the
// caller; Value is nil for keys-only iterators.
type Entry struct {
	Key   []byte
	Value []byte
	Valid bool
}
