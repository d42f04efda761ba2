package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fixedWall lets a test pin the wall clock instead of sleeping.
func fixedWall(c *Clock, ms int64) {
	c.wallNow = func() int64 { return ms }
}

func TestNowMonotonicityAtFixedWallClock(t *testing.T) {
	c := New("N1")
	fixedWall(c, 1000)

	v1 := c.Now()
	v2 := c.Now()
	v3 := c.Now()

	require.Equal(t, "1000.0.N1", v1.String())
	require.Equal(t, "1000.1.N1", v2.String())
	require.Equal(t, "1000.2.N1", v3.String())
	require.True(t, Compare(v1, v2) < 0)
	require.True(t, Compare(v2, v3) < 0)
}

func TestReceiveAdvancesPastRemote(t *testing.T) {
	c := New("N1")
	fixedWall(c, 1000)
	c.Now() // (1000, 0)

	fixedWall(c, 1200)
	remote, err := Parse("1500.3.N2")
	require.NoError(t, err)

	result := c.Receive(remote)
	require.Equal(t, "1500.4.N1", result.String())
	require.Equal(t, int64(1500), c.phys)
	require.Equal(t, int64(4), c.log)
}

func TestReceiveThenNowBothExceedRemote(t *testing.T) {
	c := New("N1")
	fixedWall(c, 500)

	remote := Value{Phys: 900, Log: 2, Node: "N2"}
	got := c.Receive(remote)
	require.True(t, HappenedBefore(remote, got) || Compare(remote, got) == 0)

	next := c.Now()
	require.True(t, Compare(remote, next) < 0)
}

func TestCompareNeverTiesSameNode(t *testing.T) {
	c := New("N1")
	fixedWall(c, 42)
	a := c.Now()
	b := c.Now()
	require.NotEqual(t, 0, Compare(a, b))
}

func TestIsConcurrentSamePhysDifferentNode(t *testing.T) {
	a := Value{Phys: 10, Log: 0, Node: "N1"}
	b := Value{Phys: 10, Log: 5, Node: "N2"}
	require.True(t, IsConcurrent(a, b))

	c := Value{Phys: 10, Log: 5, Node: "N1"}
	require.False(t, IsConcurrent(a, c))
}

func TestParseRoundTrip(t *testing.T) {
	v := Value{Phys: 123456, Log: 7, Node: "station-a"}
	parsed, err := Parse(v.String())
	require.NoError(t, err)
	require.Equal(t, v, parsed)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("not-an-hlc")
	require.Error(t, err)
}
