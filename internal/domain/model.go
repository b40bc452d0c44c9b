package domain

import "time"

// ModelEntry describes one local worker model. The registry owns the record;
// everyone else receives value copies via Snapshot.
type ModelEntry struct {
	LogicalName         string
	EndpointURL         string
	DeviceID            int
	DeclaredVRAMGB      float64
	MaxContextTokens    int
	PreferredFor        []AgentKind
	State               HealthState
	EMALatencyMS        float64
	ConsecutiveFailures int
	InflightCount       int
}

// GPUMetric is one probe sample. Unknown marks a synthetic sample recorded
// after a failed device query; readers treat it as worst case.
type GPUMetric struct {
	DeviceID       int       `json:"device_id"`
	UsedGB         float64   `json:"used_gb"`
	TotalGB        float64   `json:"total_gb"`
	UtilizationPct float64   `json:"utilization_pct"`
	TemperatureC   float64   `json:"temperature_c"`
	PowerW         float64   `json:"power_w"`
	Timestamp      time.Time `json:"timestamp"`
	Unknown        bool      `json:"unknown,omitempty"`
}

// PressureLevel classifies GPU resource state.
type PressureLevel int

const (
	PressureLow PressureLevel = iota
	PressureNormal
	PressureHigh
	PressureCritical
)

func (p PressureLevel) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureNormal:
		return "normal"
	case PressureHigh:
		return "high"
	default:
		return "critical"
	}
}

// Promote raises pressure by one level, saturating at critical.
func (p PressureLevel) Promote() PressureLevel {
	if p >= PressureCritical {
		return PressureCritical
	}
	return p + 1
}

// Pressure thresholds over used/total, plus the thermal override bounds.
const (
	pressureLowMax    = 0.50
	pressureNormalMax = 0.70
	pressureHighMax   = 0.85

	thermalPromoteC = 80.0
	thermalForceC   = 85.0
)

// ThermalState reports how a sample's temperature shapes its pressure
// level: promote raises it one step, force pins it at critical.
func ThermalState(m GPUMetric) (promote, force bool) {
	return m.TemperatureC > thermalPromoteC, m.TemperatureC > thermalForceC
}

// ClassifyPressure derives the pressure level for one sample. A synthetic
// unknown sample is critical. Temperature above 80C promotes one level;
// above 85C forces critical.
func ClassifyPressure(m GPUMetric) PressureLevel {
	if m.Unknown || m.TotalGB <= 0 {
		return PressureCritical
	}
	ratio := m.UsedGB / m.TotalGB
	var level PressureLevel
	switch {
	case ratio <= pressureLowMax:
		level = PressureLow
	case ratio <= pressureNormalMax:
		level = PressureNormal
	case ratio <= pressureHighMax:
		level = PressureHigh
	default:
		level = PressureCritical
	}
	if m.TemperatureC > thermalForceC {
		return PressureCritical
	}
	if m.TemperatureC > thermalPromoteC {
		level = level.Promote()
	}
	return level
}

// RoutingDecision is produced fresh for every dispatch.
type RoutingDecision struct {
	Model              ModelEntry
	EndpointURL        string
	Rationale          string
	EstimatedLatencyMS float64
}
