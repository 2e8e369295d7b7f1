// Package main scores a trained CycleGAN checkpoint.
//
//	go run ./cmd/evaluate -checkpoint runs/demo/cycle_gan_epoch_9.pth -synthetic 64
//
// It reports the Fréchet distance between translated and real images of
// each domain and the mean absolute cycle reconstruction error.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/FlavioCFOliveira/recyclegan/internal/data"
	"github.com/FlavioCFOliveira/recyclegan/internal/metrics"
	"github.com/FlavioCFOliveira/recyclegan/internal/model"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

func main() {
	var (
		checkpoint = flag.String("checkpoint", model.DefaultCheckpoint, "checkpoint to evaluate")
		synthetic  = flag.Int("synthetic", 0, "evaluate on N generated disc/square images per domain")
		seed       = flag.Int64("seed", 1000, "seed of the synthetic evaluation set")
		shardsA    = flag.String("shards-a", "", "comma-separated image shards of domain A")
		shardsB    = flag.String("shards-b", "", "comma-separated image shards of domain B")
		pool       = flag.Int("pool", 4, "block size of the pixel features")
	)
	flag.Parse()

	ck, err := model.ReadCheckpoint(*checkpoint)
	if err != nil {
		log.Fatal(err)
	}
	if ck.Hyperparameters == nil {
		log.Fatalf("%s carries no hyperparameters", *checkpoint)
	}
	cfg := *ck.Hyperparameters
	cfg.RestartPath = ""

	m, err := model.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	epoch, err := m.Load(*checkpoint)
	if err != nil {
		log.Fatal(err)
	}
	m.SetTraining(false)

	var realA, realB *tensor.Tensor
	switch {
	case *synthetic > 0:
		realA = data.Synthetic(data.Discs, *synthetic, cfg.Channels, cfg.ImgHeight, cfg.ImgWidth, *seed)
		realB = data.Synthetic(data.Squares, *synthetic, cfg.Channels, cfg.ImgHeight, cfg.ImgWidth, *seed+1)
	case *shardsA != "" && *shardsB != "":
		if realA, err = data.LoadShards(strings.Split(*shardsA, ","), cfg.Channels, cfg.ImgHeight, cfg.ImgWidth); err != nil {
			log.Fatal(err)
		}
		if realB, err = data.LoadShards(strings.Split(*shardsB, ","), cfg.Channels, cfg.ImgHeight, cfg.ImgWidth); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatal("either -synthetic or both -shards-a and -shards-b are required")
	}

	out, err := m.Forward(realA, realB)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Checkpoint %s (epoch %d)\n", *checkpoint, epoch)
	fmt.Println("---------------------------------------------------")
	report("FID  fake B vs real B", func() (float64, error) { return metrics.FID(out.FakeB, realB, *pool) })
	report("FID  fake A vs real A", func() (float64, error) { return metrics.FID(out.FakeA, realA, *pool) })
	report("L1   rec A vs real A ", func() (float64, error) { return tensor.AbsMeanDiff(out.RecA, realA) })
	report("L1   rec B vs real B ", func() (float64, error) { return tensor.AbsMeanDiff(out.RecB, realB) })
}

func report(name string, fn func() (float64, error)) {
	v, err := fn()
	if err != nil {
		fmt.Printf("%s: %v\n", name, err)
		return
	}
	fmt.Printf("%s: %.4f\n", name, v)
}
