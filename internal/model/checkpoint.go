package model

import (
	"encoding/gob"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/config"
	"github.com/FlavioCFOliveira/recyclegan/internal/networks"
	"github.com/FlavioCFOliveira/recyclegan/internal/opt"
)

var (
	// ErrCheckpointNotFound is returned by Load when the file does not exist.
	ErrCheckpointNotFound = errors.New("model: checkpoint not found")

	// ErrCheckpointSchema is returned by Load when the file cannot be decoded
	// or its contents do not match the model.
	ErrCheckpointSchema = errors.New("model: checkpoint schema mismatch")
)

// checkpointFormat identifies the layout written by Save.
const checkpointFormat = "recyclegan/cyclegan/v1"

// Checkpoint keys.
const (
	KeyGenAtoB = "gen_AtoB_state_dict"
	KeyGenBtoA = "gen_BtoA_state_dict"
	KeyDisA    = "dis_A_state_dict"
	KeyDisB    = "dis_B_state_dict"
	KeyOptG    = "optimizer_G_state_dict"
	KeyOptDA   = "optimizer_D_A_state_dict"
	KeyOptDB   = "optimizer_D_B_state_dict"
)

// Checkpoint is the gob-encoded content of a checkpoint file.
type Checkpoint struct {
	Format string
	Epoch  int

	// Networks holds the gen_* and dis_* state dicts.
	Networks map[string]networks.StateDict
	// Optimizers holds the optimizer_* states.
	Optimizers map[string]opt.State

	Hyperparameters *config.Config
	PathLength      map[string]float64
	Scaler          *opt.ScalerState
}

func (m *CycleGAN) networksByKey() map[string]networks.Network {
	return map[string]networks.Network{
		KeyGenAtoB: m.genAtoB,
		KeyGenBtoA: m.genBtoA,
		KeyDisA:    m.disA,
		KeyDisB:    m.disB,
	}
}

func (m *CycleGAN) optimizersByKey() map[string]*opt.Adam {
	return map[string]*opt.Adam{
		KeyOptG:  m.optG,
		KeyOptDA: m.optDA,
		KeyOptDB: m.optDB,
	}
}

// Save writes the epoch, all four networks, all three optimizers and the
// auxiliary training state to path. The file is written to path+".tmp" and
// renamed over any existing checkpoint once complete.
func (m *CycleGAN) Save(epoch int, path string) error {
	cfg := m.cfg
	scaler := m.scaler.State()
	ck := Checkpoint{
		Format:          checkpointFormat,
		Epoch:           epoch,
		Networks:        make(map[string]networks.StateDict),
		Optimizers:      make(map[string]opt.State),
		Hyperparameters: &cfg,
		PathLength: map[string]float64{
			"gen_AtoB": m.plpAtoB.Mean(),
			"gen_BtoA": m.plpBtoA.Mean(),
		},
		Scaler: &scaler,
	}
	for key, n := range m.networksByKey() {
		ck.Networks[key] = n.StateDict()
	}
	for key, o := range m.optimizersByKey() {
		ck.Optimizers[key] = o.State()
	}

	// Write beside the target, then rename into place.
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create checkpoint %s", tmp)
	}
	if err := gob.NewEncoder(file).Encode(&ck); err != nil {
		file.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "encode checkpoint %s", path)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "close checkpoint %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "replace checkpoint %s", path)
	}
	return nil
}

// ReadCheckpoint decodes a checkpoint file without applying it.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrCheckpointNotFound, "%s", path)
		}
		return nil, errors.Wrapf(err, "open checkpoint %s", path)
	}
	defer file.Close()

	var ck Checkpoint
	if err := gob.NewDecoder(file).Decode(&ck); err != nil {
		return nil, errors.Wrapf(ErrCheckpointSchema, "%s: %v", path, err)
	}
	if ck.Format != checkpointFormat {
		return nil, errors.Wrapf(ErrCheckpointSchema, "%s: format %q, want %q", path, ck.Format, checkpointFormat)
	}
	return &ck, nil
}

// check validates every part of ck against the model.
func (m *CycleGAN) check(ck *Checkpoint) error {
	if ck.Epoch < 0 {
		return errors.Wrapf(ErrCheckpointSchema, "negative epoch %d", ck.Epoch)
	}
	nets := m.networksByKey()
	if err := sameKeys(nets, ck.Networks); err != nil {
		return err
	}
	for key, n := range nets {
		if err := n.CheckStateDict(ck.Networks[key]); err != nil {
			return errors.Wrapf(ErrCheckpointSchema, "%s: %v", key, err)
		}
	}
	opts := m.optimizersByKey()
	if err := sameKeys(opts, ck.Optimizers); err != nil {
		return err
	}
	for key, o := range opts {
		if err := o.CheckState(ck.Optimizers[key]); err != nil {
			return errors.Wrapf(ErrCheckpointSchema, "%s: %v", key, err)
		}
	}
	return nil
}

func sameKeys[A, B any](want map[string]A, got map[string]B) error {
	var missing, unexpected []string
	for k := range want {
		if _, ok := got[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range got {
		if _, ok := want[k]; !ok {
			unexpected = append(unexpected, k)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		sort.Strings(missing)
		sort.Strings(unexpected)
		return errors.Wrapf(ErrCheckpointSchema, "missing keys %v, unexpected keys %v", missing, unexpected)
	}
	return nil
}

// Load restores a checkpoint written by Save and returns its epoch. The file
// is decoded and checked completely before any state is replaced, so a
// failed load leaves the model as it was.
func (m *CycleGAN) Load(path string) (int, error) {
	ck, err := ReadCheckpoint(path)
	if err != nil {
		return 0, err
	}
	if err := m.check(ck); err != nil {
		return 0, errors.Wrapf(err, "%s", path)
	}

	for key, n := range m.networksByKey() {
		if err := n.LoadStateDict(ck.Networks[key]); err != nil {
			return 0, errors.Wrapf(err, "%s: %s", path, key)
		}
	}
	for key, o := range m.optimizersByKey() {
		if err := o.SetState(ck.Optimizers[key]); err != nil {
			return 0, errors.Wrapf(err, "%s: %s", path, key)
		}
	}
	if v, ok := ck.PathLength["gen_AtoB"]; ok {
		m.plpAtoB.SetMean(v)
	}
	if v, ok := ck.PathLength["gen_BtoA"]; ok {
		m.plpBtoA.SetMean(v)
	}
	if ck.Scaler != nil {
		m.scaler.SetState(*ck.Scaler)
	}
	m.sched.SetLastEpoch(ck.Epoch + 1)
	return ck.Epoch, nil
}
