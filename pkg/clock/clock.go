// Package clock lets the background loops and the animation ledger take
// time from an injected source. Production code uses Real; tests use Fake
// and move time forward explicitly.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// After returns a channel that receives once d has elapsed. A
	// non-positive d fires immediately.
	After(d time.Duration) <-chan time.Time
}

func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
