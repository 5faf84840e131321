package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"lunarsfs/internal/monitoring"
	"lunarsfs/internal/pipeline"
	"lunarsfs/pkg/config"
	"lunarsfs/pkg/reconstruction"
)

func main() {
	configPath := flag.String("config", "lunarsfs.yaml", "Configuration file")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file and exit")
	outputDir := flag.String("output", "", "Output directory (overrides the configuration)")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: from configuration)")
	calibrate := flag.String("calibrate", "", "Derive an inverse-weight table from the initial state and save it to this file")
	writeSTL := flag.Bool("stl", false, "Also export the refined DEM as an STL mesh")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *numCores > 0 {
		cfg.Reconstruction.NumCores = *numCores
	}
	if *writeSTL {
		cfg.Output.WriteSTL = true
	}
	if !cfg.Output.Verbose {
		monitoring.SetLogger(nil)
	}

	if *calibrate != "" {
		if err := pipeline.Calibrate(cfg, *calibrate); err != nil {
			log.Fatalf("Calibration failed: %v", err)
		}
		fmt.Printf("Inverse-weight table saved to: %s\n", *calibrate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("================================")
	fmt.Println("PHOTOMETRIC DEM REFINEMENT FROM ORBITAL IMAGES")
	fmt.Println("================================")

	startTime := time.Now()
	res, err := pipeline.Run(ctx, cfg)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Reconstruction failed: %v", err)
	}
	elapsed := time.Since(startTime)
	if res == nil {
		log.Fatalf("Reconstruction interrupted before the first iteration")
	}

	switch {
	case err != nil:
		fmt.Printf("\nInterrupted after %d iterations (%.2f seconds); partial results written.\n", res.Iterations, elapsed.Seconds())
	case errors.Is(res.Warning, reconstruction.ErrNonConvergence):
		fmt.Printf("\nStopped after %d iterations without converging (%.2f seconds).\n", res.Iterations, elapsed.Seconds())
	default:
		fmt.Printf("\nConverged after %d iterations in %.2f seconds.\n", res.Iterations, elapsed.Seconds())
	}
	fmt.Printf("Session: %s\n", res.ID)
	fmt.Printf("Outputs saved to: %s\n", cfg.Output.Dir)

	if n := len(res.Stats); n > 0 {
		last := res.Stats[n-1]
		fmt.Printf("\nFinal residuals:\n")
		fmt.Printf("- Weighted RMS: %.6f\n", last.WeightedRMS)
		fmt.Printf("- Observations: %d\n", last.Observations)
	}
}
