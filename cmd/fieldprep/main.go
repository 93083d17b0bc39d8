package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"qarprep/internal/logger"
	"qarprep/pkg/config"
	"qarprep/pkg/greyvalue"
)

func main() {
	flatDir := flag.String("flat-field", "", "Directory of flat field frames")
	darkDir := flag.String("dark-field", "", "Directory of dark field frames")
	outputDir := flag.String("output", "", "Output directory (default: <frames dir>/../preproc)")
	configPath := flag.String("config", "", "YAML configuration file")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *flatDir == "" && *darkDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	lg := logger.NewConsole(*verbose || cfg.Output.Verbose)
	dec := greyvalue.NewDecoder()

	for kind, dir := range map[string]string{"flatfield": *flatDir, "darkfield": *darkDir} {
		if dir == "" {
			continue
		}
		out := *outputDir
		if out == "" {
			out = filepath.Join(filepath.Dir(filepath.Clean(dir)), "preproc")
		}

		path, err := dec.BuildReference(dir, kind, cfg.Processing.RawExtensions, out)
		if err != nil {
			log.Fatalf("Failed to build %s reference: %v", kind, err)
		}
		lg.Info("fieldprep", "Reference written", map[string]interface{}{
			"kind": kind,
			"path": path,
		})
		fmt.Println(path)
	}
}
