package train

import (
	"encoding/csv"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/FlavioCFOliveira/recyclegan/internal/config"
	"github.com/FlavioCFOliveira/recyclegan/internal/model"
)

// CSVLogger appends one row of averaged losses per epoch to a CSV file.
// Columns: epoch, every name in model.LossNames, lr, time_seconds.
type CSVLogger struct {
	BaseCallback
	Path string
	// Resume keeps existing rows; the header is written only to an empty file.
	Resume bool

	out   *csv.Writer
	close func() error
	began time.Time
}

// NewCSVLogger creates a CSV logger writing to path.
func NewCSVLogger(path string, resume bool) *CSVLogger {
	return &CSVLogger{Path: path, Resume: resume}
}

func csvHeader() []string {
	row := make([]string, 0, len(model.LossNames)+3)
	row = append(row, "epoch")
	row = append(row, model.LossNames...)
	return append(row, "lr", "time_seconds")
}

func (c *CSVLogger) OnTrainBegin(cfg config.Config, startEpoch int) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if c.Resume {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(c.Path, flags, 0o644)
	if err != nil {
		log.Printf("[csv] open %s: %v", c.Path, err)
		return
	}
	c.out = csv.NewWriter(f)
	c.close = f.Close
	c.began = time.Now()

	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		c.write(csvHeader())
	}
}

func (c *CSVLogger) write(row []string) {
	if err := c.out.Write(row); err != nil {
		log.Printf("[csv] write %s: %v", c.Path, err)
		return
	}
	c.out.Flush()
}

func (c *CSVLogger) OnEpochEnd(s EpochStats) {
	if c.out == nil {
		return
	}
	values := s.Losses.Map()
	row := []string{strconv.Itoa(s.Epoch)}
	for _, name := range model.LossNames {
		row = append(row, strconv.FormatFloat(values[name], 'f', 6, 64))
	}
	row = append(row,
		strconv.FormatFloat(s.LearningRate, 'g', -1, 64),
		strconv.FormatFloat(time.Since(c.began).Seconds(), 'f', 2, 64))
	c.write(row)
}

func (c *CSVLogger) OnTrainEnd() {
	if c.out == nil {
		return
	}
	c.out.Flush()
	if err := c.close(); err != nil {
		log.Printf("[csv] close %s: %v", c.Path, err)
	}
	c.out, c.close = nil, nil
}
