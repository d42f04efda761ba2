// Package clock implements the hybrid logical clock (HLC) used to stamp
// every event with a causally-consistent, monotonic timestamp.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Value is a parsed HLC triple.
type Value struct {
	Phys int64
	Log  int64
	Node string
}

// String renders the canonical "{phys}.{log}.{node}" wire format.
func (v Value) String() string {
	return fmt.Sprintf("%d.%d.%s", v.Phys, v.Log, v.Node)
}

// Parse reads the canonical wire format back into a Value.
func Parse(s string) (Value, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return Value{}, fmt.Errorf("clock: malformed hlc %q", s)
	}
	phys, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("clock: malformed hlc phys %q: %w", s, err)
	}
	log, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("clock: malformed hlc log %q: %w", s, err)
	}
	return Value{Phys: phys, Log: log, Node: parts[2]}, nil
}

// Compare orders two HLC values lexicographically over (phys, log, node).
func Compare(a, b Value) int {
	if a.Phys != b.Phys {
		if a.Phys < b.Phys {
			return -1
		}
		return 1
	}
	if a.Log != b.Log {
		if a.Log < b.Log {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Node, b.Node)
}

// HappenedBefore reports whether a strictly precedes b in HLC order.
func HappenedBefore(a, b Value) bool {
	return Compare(a, b) < 0
}

// IsConcurrent reports whether a and b share a physical timestamp but
// originate from different nodes — no causal relation can be inferred.
func IsConcurrent(a, b Value) bool {
	return a.Phys == b.Phys && a.Node != b.Node
}

// Clock is a single node's hybrid logical clock. It is constructed once
// per process and threaded through by reference — no package-level
// singleton state.
type Clock struct {
	mu   sync.Mutex
	phys int64
	log  int64
	node string

	wallNow func() int64 // overridable for tests
}

// New constructs a Clock for the given node identifier.
func New(node string) *Clock {
	return &Clock{
		node:    node,
		wallNow: func() int64 { return time.Now().UnixMilli() },
	}
}

// Node returns this clock's node identifier.
func (c *Clock) Node() string {
	return c.node
}

// Now advances and returns the clock's current value.
func (c *Clock) Now() Value {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.wallNow()
	if w > c.phys {
		c.phys = w
		c.log = 0
	} else {
		c.log++
	}
	return Value{Phys: c.phys, Log: c.log, Node: c.node}
}

// Receive merges a remote HLC value into this clock and returns the
// resulting local value, per the HLC receive algorithm.
func (c *Clock) Receive(remote Value) Value {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.wallNow()
	switch {
	case w > maxInt64(c.phys, remote.Phys):
		c.phys = w
		c.log = 0
	case c.phys == remote.Phys:
		c.log = maxInt64(c.log, remote.Log) + 1
	case remote.Phys > c.phys:
		c.phys = remote.Phys
		c.log = remote.Log + 1
	default:
		c.log++
	}
	return Value{Phys: c.phys, Log: c.log, Node: c.node}
}

// ReceiveString is a convenience wrapper parsing the wire format before
// merging; malformed input returns the parse error and leaves the clock
// untouched.
func (c *Clock) ReceiveString(remote string) (Value, error) {
	v, err := Parse(remote)
	if err != nil {
		return Value{}, err
	}
	return c.Receive(v), nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
