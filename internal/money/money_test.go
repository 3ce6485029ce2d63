package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundHalfUpPercent(t *testing.T) {
	require.Equal(t, int64(250), RoundHalfUpPercent(2500, 10))
	// 5% of 2250 is 112.5, half-up rounds to 113.
	require.Equal(t, int64(113), RoundHalfUpPercent(2250, 5))
	require.Equal(t, int64(0), RoundHalfUpPercent(2250, 0))
	require.Equal(t, int64(-113), RoundHalfUpPercent(-2250, 5))
}

func TestLineTotal(t *testing.T) {
	require.Equal(t, int64(2000), LineTotal(2, 1000, 0))
	require.Equal(t, int64(500), LineTotal(1, 500, 0))
	require.Equal(t, int64(1800), LineTotal(2, 1000, 10))
	// 15% of 999 is 149.85, half-up rounds the discount to 150.
	require.Equal(t, int64(849), LineTotal(1, 999, 15))
}

func TestFormat(t *testing.T) {
	require.Equal(t, "12,345.67 USD", Format(1234567, "USD"))
	require.Equal(t, "-0.05 EUR", Format(-5, "EUR"))
	require.Equal(t, "1.00 USD", Format(100, ""))
}

func TestValidPercent(t *testing.T) {
	require.True(t, ValidPercent(0))
	require.True(t, ValidPercent(100))
	require.False(t, ValidPercent(-1))
	require.False(t, ValidPercent(101))
}
