// Package smictl implements the device query by shelling out to the
// nvidia-smi CLI. It serves hosts where the NVML library cannot be loaded
// but the driver tooling is present.
package smictl

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/medgate/inference-gateway/internal/domain"
)

const queryFields = "index,memory.used,memory.total,utilization.gpu,temperature.gpu,power.draw"

// Querier invokes nvidia-smi per query.
type Querier struct {
	bin string
}

func New() *Querier {
	return &Querier{bin: "nvidia-smi"}
}

// Devices runs one fleet-wide query and returns the reported indexes.
func (q *Querier) Devices() ([]int, error) {
	out, err := q.run(context.Background(), nil)
	if err != nil {
		return nil, fmt.Errorf("op=smictl.Devices: %w", err)
	}
	var ids []int
	for _, line := range splitLines(out) {
		m, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("op=smictl.Devices: %w", err)
		}
		ids = append(ids, m.DeviceID)
	}
	return ids, nil
}

// Query reads one device with -i to bound the CLI's work.
func (q *Querier) Query(ctx context.Context, deviceID int) (domain.GPUMetric, error) {
	out, err := q.run(ctx, []string{"-i", strconv.Itoa(deviceID)})
	if err != nil {
		return domain.GPUMetric{}, fmt.Errorf("op=smictl.Query: device %d: %w", deviceID, err)
	}
	lines := splitLines(out)
	if len(lines) == 0 {
		return domain.GPUMetric{}, fmt.Errorf("op=smictl.Query: device %d: empty output", deviceID)
	}
	m, err := parseLine(lines[0])
	if err != nil {
		return domain.GPUMetric{}, fmt.Errorf("op=smictl.Query: device %d: %w", deviceID, err)
	}
	return m, nil
}

func (q *Querier) run(ctx context.Context, extra []string) (string, error) {
	args := append([]string{
		"--query-gpu=" + queryFields,
		"--format=csv,noheader,nounits",
	}, extra...)
	cmd := exec.CommandContext(ctx, q.bin, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("exec %s: %w", q.bin, err)
	}
	return string(out), nil
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// parseLine decodes one CSV row. Memory comes back in MiB; power may read
// "[N/A]" on devices without a power sensor.
func parseLine(line string) (domain.GPUMetric, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 6 {
		return domain.GPUMetric{}, fmt.Errorf("malformed row %q", line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	idx, err := strconv.Atoi(fields[0])
	if err != nil {
		return domain.GPUMetric{}, fmt.Errorf("index %q: %w", fields[0], err)
	}
	usedMiB, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return domain.GPUMetric{}, fmt.Errorf("memory.used %q: %w", fields[1], err)
	}
	totalMiB, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return domain.GPUMetric{}, fmt.Errorf("memory.total %q: %w", fields[2], err)
	}
	util, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return domain.GPUMetric{}, fmt.Errorf("utilization %q: %w", fields[3], err)
	}
	temp, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return domain.GPUMetric{}, fmt.Errorf("temperature %q: %w", fields[4], err)
	}
	power := 0.0
	if fields[5] != "" && !strings.HasPrefix(fields[5], "[") {
		power, err = strconv.ParseFloat(fields[5], 64)
		if err != nil {
			return domain.GPUMetric{}, fmt.Errorf("power.draw %q: %w", fields[5], err)
		}
	}

	return domain.GPUMetric{
		DeviceID:       idx,
		UsedGB:         usedMiB / 1024,
		TotalGB:        totalMiB / 1024,
		UtilizationPct: util,
		TemperatureC:   temp,
		PowerW:         power,
	}, nil
}
