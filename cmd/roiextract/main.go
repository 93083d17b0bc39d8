package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"qarprep/internal/logger"
	"qarprep/pkg/config"
	"qarprep/pkg/roi"
)

func main() {
	sourceDir := flag.String("source", "", "Directory searched for ROI files and calibrated images")
	configPath := flag.String("config", "", "YAML configuration file")
	roiSuffix := flag.String("roi-suffix", "", "Suffix of ROI file stems")
	imageSuffix := flag.String("image-suffix", "", "Suffix replacing the ROI suffix to find the image")
	normRegions := flag.String("norm-regions", "", "Comma separated reference regions to normalise by")
	groupBy := flag.String("group-by", "", "Comma separated metadata keys to group by")
	output := flag.String("output", "", "Output path prefix for the value tables")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *sourceDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "roi-suffix":
			cfg.ROI.RoiSuffix = *roiSuffix
		case "image-suffix":
			cfg.ROI.ImageSuffix = *imageSuffix
		case "norm-regions":
			cfg.ROI.NormRegions = splitList(*normRegions)
		case "group-by":
			cfg.ROI.GroupBy = splitList(*groupBy)
		case "output":
			cfg.ROI.Output = *output
		case "verbose":
			cfg.Output.Verbose = *verbose
		}
	})

	lg := logger.NewConsole(cfg.Output.Verbose)
	report, err := roi.NewRunner(cfg, lg).Run(*sourceDir)
	if report != nil {
		for file, ferr := range report.Failed {
			fmt.Printf("FAILED  %s: %v\n", file, ferr)
		}
	}
	if err != nil {
		log.Fatalf("ROI extraction failed: %v", err)
	}

	fmt.Printf("Extracted %d ROIs from %d files (%d skipped, %d failed)\n",
		len(report.Records), report.RoiFiles, len(report.Skipped), len(report.Failed))
	fmt.Printf("Summary: %s\n", report.SummaryPath)
	fmt.Printf("Values:  %s\n", report.DetailPath)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
