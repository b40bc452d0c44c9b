package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPressure(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		m    GPUMetric
		want PressureLevel
	}{
		{name: "idle", m: GPUMetric{UsedGB: 2, TotalGB: 24, TemperatureC: 45}, want: PressureLow},
		{name: "at low boundary", m: GPUMetric{UsedGB: 12, TotalGB: 24, TemperatureC: 45}, want: PressureLow},
		{name: "normal", m: GPUMetric{UsedGB: 16, TotalGB: 24, TemperatureC: 45}, want: PressureNormal},
		{name: "high", m: GPUMetric{UsedGB: 20, TotalGB: 24, TemperatureC: 45}, want: PressureHigh},
		{name: "critical by memory", m: GPUMetric{UsedGB: 22, TotalGB: 24, TemperatureC: 45}, want: PressureCritical},
		{name: "thermal promote one level", m: GPUMetric{UsedGB: 2, TotalGB: 24, TemperatureC: 81}, want: PressureNormal},
		{name: "thermal promote from high", m: GPUMetric{UsedGB: 20, TotalGB: 24, TemperatureC: 81}, want: PressureCritical},
		{name: "thermal force critical", m: GPUMetric{UsedGB: 2, TotalGB: 24, TemperatureC: 86}, want: PressureCritical},
		{name: "unknown sample is worst case", m: GPUMetric{Unknown: true}, want: PressureCritical},
		{name: "zero total is worst case", m: GPUMetric{UsedGB: 0, TotalGB: 0}, want: PressureCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyPressure(tc.m), "used=%v total=%v temp=%v", tc.m.UsedGB, tc.m.TotalGB, tc.m.TemperatureC)
		})
	}
}

func TestPressurePromoteSaturates(t *testing.T) {
	t.Parallel()
	assert.Equal(t, PressureNormal, PressureLow.Promote())
	assert.Equal(t, PressureHigh, PressureNormal.Promote())
	assert.Equal(t, PressureCritical, PressureHigh.Promote())
	assert.Equal(t, PressureCritical, PressureCritical.Promote())
}

func TestPressureLevelString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "low", PressureLow.String())
	assert.Equal(t, "normal", PressureNormal.String())
	assert.Equal(t, "high", PressureHigh.String())
	assert.Equal(t, "critical", PressureCritical.String())
}
