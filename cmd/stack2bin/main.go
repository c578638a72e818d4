package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"stack2bin/pkg/config"
	"stack2bin/pkg/filesearch"
	"stack2bin/pkg/ingestion"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "", "YAML configuration file (optional)")
	dataPath := flag.String("data", "", "Directory containing the source stacks")
	savePath := flag.String("save", "", "Directory to write plane folders into")
	format := flag.String("format", "", "Acquisition format: interleaved, mesoscope, ome, or bruker")
	planes := flag.Int("planes", 0, "Number of imaging planes")
	channels := flag.Int("channels", 0, "Number of detector channels (1 or 2)")
	batchSize := flag.Int("batch", 0, "Frames per read batch")
	oneLevelDown := flag.Bool("one-level-down", false, "Also ingest stacks in immediate subfolders")
	forceGeneric := flag.Bool("force-generic", false, "Skip backend probing and use the generic decoder")
	bidirectional := flag.Bool("bidirectional", false, "Plane cycle is a palindrome (ome series)")
	flag.Parse()

	// Load configuration; flags override file values
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dataPath != "" {
		cfg.Input.DataPath = *dataPath
	}
	if *savePath != "" {
		cfg.Output.SavePath = *savePath
	}
	if *format != "" {
		cfg.Acquisition.Format = *format
	}
	if *planes > 0 {
		cfg.Acquisition.Planes = *planes
	}
	if *channels > 0 {
		cfg.Acquisition.Channels = *channels
	}
	if *batchSize > 0 {
		cfg.Acquisition.BatchSize = *batchSize
	}
	if *oneLevelDown {
		cfg.Input.LookOneLevelDown = true
	}
	if *forceGeneric {
		cfg.Input.ForceGeneric = true
	}
	if *bidirectional {
		cfg.Acquisition.Bidirectional = true
	}

	if cfg.Input.DataPath == "" || cfg.Output.SavePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	files, err := filesearch.ListTIFFs(cfg.Input.DataPath, cfg.Input.LookOneLevelDown)
	if err != nil {
		log.Fatalf("Failed to list source files: %v", err)
	}
	fmt.Printf("** Found %d tiffs - converting to binary **\n", len(files))

	driver := ingestion.NewDriver(cfg, files)
	startTime := time.Now()
	if err := driver.Run(); err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}

	fmt.Printf("\nIngestion completed successfully in %.2f seconds!\n", time.Since(startTime).Seconds())
	for _, res := range driver.Results() {
		fmt.Printf("plane%d: %d frames, %dx%d -> %s\n",
			res.Plane, res.NFrames, res.Ly, res.Lx, res.BinPath)
	}
}
