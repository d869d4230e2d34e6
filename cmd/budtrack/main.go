package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"budtrack/pkg/config"
	"budtrack/pkg/ellipse"
	"budtrack/pkg/export"
	"budtrack/pkg/roi"
	"budtrack/pkg/tiffio"
	"budtrack/pkg/tracker"
)

func main() {
	inputDir := flag.String("input", "", "Directory containing grayscale TIFF planes")
	channels := flag.Int("channels", 2, "Number of acquisition channels per frame")
	configPath := flag.String("config", "budtrack.yaml", "YAML configuration file")
	seedSpec := flag.String("seeds", "", "Seed selections as frame:x,y[;frame:x,y...]")
	csvPath := flag.String("csv", "measurements.csv", "Output CSV filename")
	roiPath := flag.String("rois", "", "Optional ImageJ ROI zip filename")
	flag.Parse()

	if *inputDir == "" || *seedSpec == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stack, err := tiffio.LoadDir(*inputDir, *channels)
	if err != nil {
		log.Fatalf("Failed to load image stack: %v", err)
	}
	fmt.Printf("Loaded stack: %d frames, %d channels, %dx%d pixels\n",
		stack.Frames, stack.Channels, stack.Width, stack.Height)

	t := tracker.New(stack, tracker.Config{
		FittingMethod:        ellipse.Method(cfg.Fitting.Method),
		SelectionRadius:      cfg.Selection.Radius,
		PixelSize:            cfg.Imaging.PixelSize,
		BrightfieldChannel:   cfg.Imaging.BrightfieldChannel,
		FluorescenceChannels: cfg.Imaging.FluorescenceChannels,
		CellRadius:           cfg.Detection.CellRadius,
		EdgeWindow:           cfg.Detection.EdgeWindow,
		MinRelativeDrop:      cfg.Detection.MinRelativeDrop,
	})

	seeds, err := parseSeeds(*seedSpec)
	if err != nil {
		log.Fatalf("Invalid seed list: %v", err)
	}
	for _, s := range seeds {
		if !t.AddSelection(s.frame, s.x, s.y) {
			log.Printf("Warning: duplicate seed %d:%g,%g ignored", s.frame, s.x, s.y)
		}
	}

	fmt.Println("Tracking cells...")
	start := time.Now()
	err = t.Run(context.Background(), func(frame int) {
		fmt.Printf("  frame %d done\n", frame)
	})
	if err != nil {
		log.Fatalf("Tracking failed: %v", err)
	}

	records := t.Records()
	found := 0
	for _, m := range records {
		if m.Found {
			found++
		}
	}
	fmt.Printf("Tracking completed in %.2f seconds: %d measurements (%d found)\n",
		time.Since(start).Seconds(), len(records), found)

	out, err := os.Create(*csvPath)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", *csvPath, err)
	}
	defer out.Close()
	if err := export.WriteCSV(out, records); err != nil {
		log.Fatalf("Failed to write measurements: %v", err)
	}
	fmt.Printf("Measurements saved to: %s\n", *csvPath)

	if *roiPath != "" {
		zf, err := os.Create(*roiPath)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *roiPath, err)
		}
		defer zf.Close()
		rois := roi.FromMeasurements(records, 100, cfg.Fitting.Method)
		if err := roi.WriteZip(zf, rois); err != nil {
			log.Fatalf("Failed to write ROI zip: %v", err)
		}
		fmt.Printf("Fitted outlines saved to: %s\n", *roiPath)
	}
}

type seed struct {
	frame int
	x, y  float64
}

// parseSeeds parses "frame:x,y;frame:x,y" seed lists.
func parseSeeds(spec string) ([]seed, error) {
	var seeds []seed
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		frameCoords := strings.SplitN(part, ":", 2)
		if len(frameCoords) != 2 {
			return nil, fmt.Errorf("malformed seed %q, want frame:x,y", part)
		}
		frame, err := strconv.Atoi(frameCoords[0])
		if err != nil {
			return nil, fmt.Errorf("malformed frame in %q: %w", part, err)
		}
		coords := strings.SplitN(frameCoords[1], ",", 2)
		if len(coords) != 2 {
			return nil, fmt.Errorf("malformed coordinates in %q, want x,y", part)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed x in %q: %w", part, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed y in %q: %w", part, err)
		}
		seeds = append(seeds, seed{frame: frame, x: x, y: y})
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no seeds in %q", spec)
	}
	return seeds, nil
}
