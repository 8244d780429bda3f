package testutil

import (
	"strconv"
	"sync"
	"time"

	"ib-go/internal/ib"
)

// FixedTime is where FixedClock starts: 2024-01-15 10:30:00 UTC.
var FixedTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock only moves when Advance is called.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ ib.Clock = (*StubClock)(nil)

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to FixedTime.
func FixedClock() *StubClock {
	return NewStubClock(FixedTime)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward. Download timestamps are whole seconds, so
// tests comparing them should advance by at least a second.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StubIDGenerator hands out "id-1", "id-2", ... in order.
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

var _ ib.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return "id-" + strconv.Itoa(g.next)
}
