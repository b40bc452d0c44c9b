// Package nvml implements the device query over the NVIDIA Management
// Library. It is the default GPU source on hosts with the NVIDIA driver.
package nvml

import (
	"context"
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/medgate/inference-gateway/internal/domain"
)

const bytesPerGiB = 1 << 30

// Querier holds an initialized NVML session.
type Querier struct{}

// New initializes NVML. Callers must Close to release the session.
func New() (*Querier, error) {
	ret := nvml.Init()
	if ret != nvml.SUCCESS && ret != nvml.ERROR_ALREADY_INITIALIZED {
		return nil, fmt.Errorf("op=nvml.New: init: %s", nvml.ErrorString(ret))
	}
	return &Querier{}, nil
}

// Close shuts the NVML session down.
func (q *Querier) Close() error {
	ret := nvml.Shutdown()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("op=nvml.Close: shutdown: %s", nvml.ErrorString(ret))
	}
	return nil
}

// Devices enumerates device indexes.
func (q *Querier) Devices() ([]int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("op=nvml.Devices: count: %s", nvml.ErrorString(ret))
	}
	ids := make([]int, 0, count)
	for i := 0; i < count; i++ {
		ids = append(ids, i)
	}
	return ids, nil
}

// Query reads the five scalars for one device. Memory is mandatory;
// utilization, temperature and power degrade to zero when the device does
// not report them.
func (q *Querier) Query(_ context.Context, deviceID int) (domain.GPUMetric, error) {
	device, ret := nvml.DeviceGetHandleByIndex(deviceID)
	if ret != nvml.SUCCESS {
		return domain.GPUMetric{}, fmt.Errorf("op=nvml.Query: handle %d: %s", deviceID, nvml.ErrorString(ret))
	}

	mem, ret := device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return domain.GPUMetric{}, fmt.Errorf("op=nvml.Query: memory %d: %s", deviceID, nvml.ErrorString(ret))
	}

	m := domain.GPUMetric{
		DeviceID: deviceID,
		UsedGB:   float64(mem.Used) / bytesPerGiB,
		TotalGB:  float64(mem.Total) / bytesPerGiB,
	}

	if util, ret := device.GetUtilizationRates(); ret == nvml.SUCCESS {
		m.UtilizationPct = float64(util.Gpu)
	}
	if temp, ret := device.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
		m.TemperatureC = float64(temp)
	}
	if power, ret := device.GetPowerUsage(); ret == nvml.SUCCESS {
		m.PowerW = float64(power) / 1000 // NVML reports milliwatts
	}
	return m, nil
}
