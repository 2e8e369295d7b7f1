// Package main trains a CycleGAN between two image domains.
//
//	go run ./cmd/cyclegan -params hyperparameters.json -shards-a a.gob -shards-b b.gob
//	go run ./cmd/cyclegan -synthetic 64 -epochs 4 -out runs/demo
//
// Interrupting the process stops training after the current iteration.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/cyclegan"
	"github.com/FlavioCFOliveira/recyclegan/internal/data"
)

func main() {
	var (
		params    = flag.String("params", "", "hyperparameters JSON file (defaults are used when empty)")
		restart   = flag.String("restart", "", "checkpoint to resume from")
		out       = flag.String("out", "", "output folder for checkpoints and logs")
		epochs    = flag.Int("epochs", 0, "override num_epochs")
		batch     = flag.Int("batch", 0, "override batch_size")
		synthetic = flag.Int("synthetic", 0, "train on N generated disc/square images per domain")
		shardsA   = flag.String("shards-a", "", "comma-separated image shards of domain A")
		shardsB   = flag.String("shards-b", "", "comma-separated image shards of domain B")
		logEvery  = flag.Int("log-every", 50, "log every N batches (0 logs epochs only)")
	)
	flag.Parse()
	log.SetFlags(log.LstdFlags)

	cfg := cyclegan.DefaultConfig()
	cfg.ParametersPath = *params
	if *restart != "" {
		cfg.RestartPath = *restart
	}
	if *out != "" {
		cfg.OutFolder = *out
	}
	cfg, err := cyclegan.ResolveConfig(cfg)
	if err != nil {
		log.Fatalf("load hyperparameters: %v", err)
	}
	if *epochs > 0 {
		cfg.NumEpochs = *epochs
	}
	if *batch > 0 {
		cfg.BatchSize = *batch
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid hyperparameters: %v", err)
	}

	imagesA, imagesB, err := loadImages(cfg, *synthetic, *shardsA, *shardsB)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("=============================================================")
	fmt.Println("  CycleGAN training")
	fmt.Println("=============================================================")
	fmt.Printf("Domain A: %d images %s\n", imagesA.Shape[0], imagesA)
	fmt.Printf("Domain B: %d images %s\n", imagesB.Shape[0], imagesB)
	fmt.Printf("Output:   %s\n", cfg.OutFolder)
	fmt.Println()

	m, err := cyclegan.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	for name, n := range m.NumParams() {
		log.Printf("[model] %s: %d parameters", name, n)
	}

	if err := os.MkdirAll(cfg.OutFolder, 0o755); err != nil {
		log.Fatal(err)
	}
	callbacks := []cyclegan.Callback{
		cyclegan.Logger(*logEvery, nil),
		cyclegan.CSVLogger(filepath.Join(cfg.OutFolder, "losses.csv"), cfg.RestartPath != ""),
	}
	t, err := cyclegan.NewTrainer(cfg, m, imagesA, imagesB, callbacks...)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := t.Run(ctx); err != nil {
		log.Fatalf("training stopped: %v", err)
	}
	fmt.Println("Training complete.")
}

func loadImages(cfg cyclegan.Config, synthetic int, shardsA, shardsB string) (*cyclegan.Tensor, *cyclegan.Tensor, error) {
	if synthetic > 0 {
		seed := int64(cfg.Seed)
		a := data.Synthetic(data.Discs, synthetic, cfg.Channels, cfg.ImgHeight, cfg.ImgWidth, seed)
		b := data.Synthetic(data.Squares, synthetic, cfg.Channels, cfg.ImgHeight, cfg.ImgWidth, seed+1)
		return a, b, nil
	}
	if shardsA == "" || shardsB == "" {
		return nil, nil, errors.New("either -synthetic or both -shards-a and -shards-b are required")
	}
	a, err := data.LoadShards(strings.Split(shardsA, ","), cfg.Channels, cfg.ImgHeight, cfg.ImgWidth)
	if err != nil {
		return nil, nil, err
	}
	b, err := data.LoadShards(strings.Split(shardsB, ","), cfg.Channels, cfg.ImgHeight, cfg.ImgWidth)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
