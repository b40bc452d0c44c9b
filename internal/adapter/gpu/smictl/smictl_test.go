package smictl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	t.Parallel()
	m, err := parseLine("0, 2048, 24576, 35, 61, 187.42")
	require.NoError(t, err)
	assert.Equal(t, 0, m.DeviceID)
	assert.InDelta(t, 2.0, m.UsedGB, 1e-9)
	assert.InDelta(t, 24.0, m.TotalGB, 1e-9)
	assert.Equal(t, 35.0, m.UtilizationPct)
	assert.Equal(t, 61.0, m.TemperatureC)
	assert.InDelta(t, 187.42, m.PowerW, 1e-9)
}

func TestParseLinePowerNotAvailable(t *testing.T) {
	t.Parallel()
	m, err := parseLine("1, 512, 8192, 0, 45, [N/A]")
	require.NoError(t, err)
	assert.Equal(t, 1, m.DeviceID)
	assert.Zero(t, m.PowerW)
}

func TestParseLineMalformed(t *testing.T) {
	t.Parallel()
	cases := []string{
		"",
		"0, 2048, 24576, 35, 61",
		"x, 2048, 24576, 35, 61, 100",
		"0, lots, 24576, 35, 61, 100",
	}
	for _, line := range cases {
		_, err := parseLine(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestSplitLines(t *testing.T) {
	t.Parallel()
	lines := splitLines("a\n\n  b \n")
	assert.Equal(t, []string{"a", "b"}, lines)
}
