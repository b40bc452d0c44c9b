// Command exporter runs on GPU worker hosts. It exposes the inventory of
// model-serving containers plus raw device telemetry so Prometheus can
// correlate gateway routing decisions with what each host was doing.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	workerMeta = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_container_info",
			Help: "Model-serving container metadata",
		},
		[]string{"id", "name", "image", "com_docker_compose_service", "state", "full_id"},
	)
	gpuGauges = map[string]*prometheus.GaugeVec{
		"used_mb":         newGPUGauge("host_gpu_memory_used_mb", "GPU memory in use"),
		"total_mb":        newGPUGauge("host_gpu_memory_total_mb", "GPU memory installed"),
		"utilization_pct": newGPUGauge("host_gpu_utilization_pct", "GPU compute utilization"),
		"temperature_c":   newGPUGauge("host_gpu_temperature_celsius", "GPU core temperature"),
		"power_w":         newGPUGauge("host_gpu_power_watts", "GPU power draw"),
	}
)

func newGPUGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"device"})
}

func init() {
	prometheus.MustRegister(workerMeta)
	for _, g := range gpuGauges {
		prometheus.MustRegister(g)
	}
}

func collectContainers() {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		log.Printf("Error creating Docker client: %v", err)
		return
	}
	defer cli.Close()

	containers, err := cli.ContainerList(context.Background(), container.ListOptions{All: true})
	if err != nil {
		log.Printf("Error listing containers: %v", err)
		return
	}

	workerMeta.Reset()

	for _, c := range containers {
		fullID := c.ID
		shortID := fullID
		if len(fullID) > 12 {
			shortID = fullID[:12]
		}
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		service := c.Labels["com.docker.compose.service"]
		if service == "" {
			service = name
		}
		workerMeta.WithLabelValues(shortID, name, c.Image, service, c.State, fullID).Set(1)
	}
}

// collectGPUs shells out to nvidia-smi. The CSV field order must match the
// query list below.
func collectGPUs() {
	out, err := exec.Command("nvidia-smi",
		"--query-gpu=index,memory.used,memory.total,utilization.gpu,temperature.gpu,power.draw",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		log.Printf("Error querying nvidia-smi: %v", err)
		return
	}
	fields := []string{"", "used_mb", "total_mb", "utilization_pct", "temperature_c", "power_w"}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		cols := strings.Split(line, ",")
		if len(cols) != len(fields) {
			continue
		}
		device := strings.TrimSpace(cols[0])
		for i := 1; i < len(cols); i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(cols[i]), 64)
			if err != nil {
				continue
			}
			gpuGauges[fields[i]].WithLabelValues(device).Set(v)
		}
	}
}

func main() {
	go func() {
		for {
			collectContainers()
			collectGPUs()
			time.Sleep(15 * time.Second)
		}
	}()

	http.Handle("/metrics", promhttp.Handler())
	fmt.Println("Starting GPU Worker Exporter on :8000")
	log.Fatal(http.ListenAndServe(":8000", nil))
}
