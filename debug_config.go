package main

import (
	"fmt"
	"log"

	"github.com/medgate/inference-gateway/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("AuthEnabled(): %v\n", cfg.AuthEnabled())
	fmt.Printf("AuditKafkaEnabled(): %v\n", cfg.AuditKafkaEnabled())
	fmt.Printf("CacheEnabled(): %v\n", cfg.CacheEnabled())
	fmt.Printf("GPUSource: '%s'\n", cfg.GPUSource)

	fleet, err := config.LoadFleet(cfg)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Workers: %d\n", len(fleet.Workers))
	for _, w := range fleet.Workers {
		fmt.Printf("  %s device=%d vram=%.1fGB ctx=%d\n", w.LogicalName, w.DeviceID, w.DeclaredVRAMGB, w.MaxContextTokens)
	}
	for kind, candidates := range fleet.Agents {
		fmt.Printf("  agent %s -> %v\n", kind, candidates)
	}
}
