package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after))
}

func TestClockNowMillis(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.NowMillis()
	second := clk.NowMillis()
	require.Positive(t, first)
	require.GreaterOrEqual(t, second, first)
}
