package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"qarprep/internal/logger"
	"qarprep/pkg/config"
	"qarprep/pkg/workflow"
)

func main() {
	// Parse command line arguments
	sourceDir := flag.String("source", "", "Directory containing one sub-directory of raw images per subject")
	outputDir := flag.String("output", "", "Output directory (default: <source>/../preproc)")
	configPath := flag.String("config", "", "YAML configuration file")
	initConfig := flag.String("init-config", "", "Write a default configuration file to this path and exit")
	subjects := flag.String("subjects", "", "Comma separated subject ids to process (default: all)")
	standardsPath := flag.String("standards", "", "YAML table of standard activities per isotope; required unless the config file has a standards table")
	isotope := flag.String("isotope", "", "Isotope column of the standards table")
	flatField := flag.String("flat-field", "", "Flat field reference image")
	darkField := flag.String("dark-field", "", "Dark field reference image")
	cropRow := flag.Float64("crop-row", 0, "Fraction of rows cropped from each end of slide images")
	cropCol := flag.Float64("crop-col", 0, "Fraction of columns cropped from each end of slide images")
	rotate := flag.Int("rotate", 0, "Number of 90 degree clockwise rotations applied to slides")
	workers := flag.Int("workers", 0, "Number of subjects processed concurrently")
	saveIntermediate := flag.Bool("save-intermediate", false, "Save standard tables, fit parameters and figures")
	saveNifti := flag.Bool("save-nifti", true, "Save one NIfTI volume per slide")
	saveTiff := flag.Bool("save-tiff", false, "Save one float TIFF per slide image")
	mosaic := flag.String("mosaic", "", "Comma separated slice indices for the mosaic figure (-1 for all)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *initConfig)
		return
	}

	// Validate inputs
	if *sourceDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// explicitly set flags override the configuration file
	var badMosaic error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "isotope":
			cfg.Processing.Isotope = *isotope
		case "flat-field":
			cfg.Processing.FlatField = *flatField
		case "dark-field":
			cfg.Processing.DarkField = *darkField
		case "crop-row":
			cfg.Processing.CropRow = *cropRow
		case "crop-col":
			cfg.Processing.CropCol = *cropCol
		case "rotate":
			cfg.Processing.Rotate = *rotate
		case "workers":
			cfg.Processing.NumWorkers = *workers
		case "save-intermediate":
			cfg.Output.SaveIntermediate = *saveIntermediate
		case "save-nifti":
			cfg.Output.SaveNifti = *saveNifti
		case "save-tiff":
			cfg.Output.SaveTiff = *saveTiff
		case "mosaic":
			cfg.Output.MosaicSlices, badMosaic = parseInts(*mosaic)
		case "verbose":
			cfg.Output.Verbose = *verbose
		}
	})
	if badMosaic != nil {
		log.Fatalf("Invalid -mosaic value: %v", badMosaic)
	}

	lg := logger.NewConsole(cfg.Output.Verbose)

	table := config.NewActivityTable(cfg.Standards)
	if *standardsPath != "" {
		if table, err = config.LoadActivityTable(*standardsPath); err != nil {
			log.Fatalf("Failed to load standards: %v", err)
		}
	}
	activities, err := table.Activities(cfg.Processing.Isotope)
	if err != nil {
		log.Fatalf("Failed to select standards: %v", err)
	}

	src, err := filepath.Abs(*sourceDir)
	if err != nil {
		log.Fatalf("Invalid source directory: %v", err)
	}
	out := *outputDir
	if out == "" {
		out = filepath.Join(filepath.Dir(src), "preproc")
	}

	var filter []string
	if *subjects != "" {
		filter = strings.Split(*subjects, ",")
	}
	found, err := workflow.DiscoverSubjects(src, cfg.Processing.RawExtensions, filter)
	if err != nil {
		log.Fatalf("Failed to discover subjects: %v", err)
	}
	if len(found) == 0 {
		log.Fatalf("No subjects found in %s", src)
	}

	lg.Info("argprep", "Starting preprocessing", map[string]interface{}{
		"source":   src,
		"output":   out,
		"subjects": len(found),
		"isotope":  cfg.Processing.Isotope,
		"workers":  cfg.Processing.NumWorkers,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	startTime := time.Now()
	results := workflow.NewRunner(cfg, activities, out, lg).Run(ctx, found)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Printf("FAILED  %s: %v\n", res.SubjectID, res.Err)
			continue
		}
		fmt.Printf("OK      %s: %d slides, %d files in %.1fs\n",
			res.SubjectID, res.Slides, len(res.Outputs), res.Duration.Seconds())
	}
	fmt.Printf("\nProcessed %d subjects (%d failed) in %.2f seconds\n",
		len(results), failed, time.Since(startTime).Seconds())

	if failed > 0 {
		os.Exit(1)
	}
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
