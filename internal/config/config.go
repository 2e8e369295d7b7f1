// Package config holds the training hyperparameters.
//
// Hyperparameters travel as a flat JSON object (hyperparameters.json). The
// object is handled as a google.protobuf.Struct, so any file written by Save
// or by other tools emitting plain JSON objects can be read back with Load.
package config

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/FlavioCFOliveira/recyclegan/internal/networks"
)

// ErrConfig is returned for unknown keys, mistyped values and invalid settings.
var ErrConfig = errors.New("config: invalid hyperparameters")

// FileName is the name under which the hyperparameters of a run are stored.
const FileName = "hyperparameters.json"

// Config is the full set of hyperparameters. It is passed by value and never
// modified once training starts.
type Config struct {
	NumEpochs          int `json:"num_epochs"`
	CheckpointInterval int `json:"checkpoint_interval"`
	// NSamples limits the number of images used per domain; 0 uses all of them.
	NSamples  int `json:"n_samples"`
	BatchSize int `json:"batch_size"`
	Seed      int `json:"seed"`

	ImgHeight int `json:"img_height"`
	ImgWidth  int `json:"img_width"`
	Channels  int `json:"channels"`

	NFeatures           int    `json:"n_features"`
	NResidualBlocks     int    `json:"n_residual_blocks"`
	NDownsampling       int    `json:"n_downsampling"`
	DiscriminatorLayers int    `json:"discriminator_layers"`
	NormType            string `json:"norm_type"`
	AddSkip             bool   `json:"add_skip"`

	UseReplayBuffer  bool `json:"use_replay_buffer"`
	ReplayBufferSize int  `json:"replay_buffer_size"`

	VanillaLoss     bool    `json:"vanilla_loss"`
	CycleLossWeight float64 `json:"cycle_loss_weight"`
	IDLossWeight    float64 `json:"id_loss_weight"`
	PLPLossWeight   float64 `json:"plp_loss_weight"`
	PLPStep         int     `json:"plp_step"`
	PLPBeta         float64 `json:"plp_beta"`

	LR       float64 `json:"lr"`
	Beta1    float64 `json:"beta1"`
	Beta2    float64 `json:"beta2"`
	StepSize int     `json:"step_size"`
	Gamma    float64 `json:"gamma"`
	AMP      bool    `json:"amp"`

	RestartPath    string `json:"restart_path"`
	ParametersPath string `json:"parameters_path"`
	OutFolder      string `json:"out_folder"`
	Device         string `json:"device"`
}

// Default returns the standard CycleGAN settings.
func Default() Config {
	return Config{
		NumEpochs:           10,
		CheckpointInterval:  2,
		BatchSize:           1,
		ImgHeight:           256,
		ImgWidth:            256,
		Channels:            3,
		NFeatures:           64,
		NResidualBlocks:     9,
		NDownsampling:       2,
		DiscriminatorLayers: networks.DefaultLayers,
		NormType:            string(networks.NormInstance),
		UseReplayBuffer:     true,
		ReplayBufferSize:    50,
		CycleLossWeight:     10,
		IDLossWeight:        5,
		PLPBeta:             0.99,
		LR:                  0.0002,
		Beta1:               0.5,
		Beta2:               0.999,
		StepSize:            20,
		Gamma:               0.5,
		OutFolder:           ".",
		Device:              "cpu",
	}
}

// Generator returns the architecture of both generators.
func (c Config) Generator() networks.GeneratorConfig {
	return networks.GeneratorConfig{
		InChannels:     c.Channels,
		OutChannels:    c.Channels,
		Features:       c.NFeatures,
		ResidualBlocks: c.NResidualBlocks,
		Downsampling:   c.NDownsampling,
		Norm:           networks.Norm(c.NormType),
		AddSkip:        c.AddSkip,
	}
}

// Discriminator returns the architecture of both discriminators.
func (c Config) Discriminator() networks.DiscriminatorConfig {
	return networks.DiscriminatorConfig{
		InChannels: c.Channels,
		Features:   c.NFeatures,
		Layers:     c.DiscriminatorLayers,
		Norm:       networks.Norm(c.NormType),
	}
}

// ReplayCapacity returns the replay buffer size, or 0 when the buffer is off.
func (c Config) ReplayCapacity() int {
	if !c.UseReplayBuffer {
		return 0
	}
	return c.ReplayBufferSize
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	positives := []struct {
		name  string
		value int
	}{
		{"num_epochs", c.NumEpochs},
		{"checkpoint_interval", c.CheckpointInterval},
		{"batch_size", c.BatchSize},
		{"img_height", c.ImgHeight},
		{"img_width", c.ImgWidth},
		{"channels", c.Channels},
		{"n_features", c.NFeatures},
		{"discriminator_layers", c.DiscriminatorLayers},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return errors.Wrapf(ErrConfig, "%s must be positive, got %d", p.name, p.value)
		}
	}
	nonNegatives := []struct {
		name  string
		value int
	}{
		{"n_samples", c.NSamples},
		{"n_residual_blocks", c.NResidualBlocks},
		{"n_downsampling", c.NDownsampling},
		{"replay_buffer_size", c.ReplayBufferSize},
		{"plp_step", c.PLPStep},
		{"step_size", c.StepSize},
	}
	for _, p := range nonNegatives {
		if p.value < 0 {
			return errors.Wrapf(ErrConfig, "%s must be >= 0, got %d", p.name, p.value)
		}
	}
	if c.LR <= 0 {
		return errors.Wrapf(ErrConfig, "lr must be positive, got %g", c.LR)
	}
	for name, b := range map[string]float64{"beta1": c.Beta1, "beta2": c.Beta2} {
		if b < 0 || b >= 1 {
			return errors.Wrapf(ErrConfig, "%s must be in [0, 1), got %g", name, b)
		}
	}
	if c.PLPBeta < 0 || c.PLPBeta > 1 {
		return errors.Wrapf(ErrConfig, "plp_beta must be in [0, 1], got %g", c.PLPBeta)
	}
	if c.Gamma <= 0 {
		return errors.Wrapf(ErrConfig, "gamma must be positive, got %g", c.Gamma)
	}
	if c.CycleLossWeight < 0 || c.IDLossWeight < 0 || c.PLPLossWeight < 0 {
		return errors.Wrapf(ErrConfig, "loss weights must be >= 0 (cycle=%g id=%g plp=%g)",
			c.CycleLossWeight, c.IDLossWeight, c.PLPLossWeight)
	}
	if c.UseReplayBuffer && c.ReplayBufferSize == 0 {
		return errors.Wrap(ErrConfig, "use_replay_buffer needs replay_buffer_size > 0")
	}
	if c.Device != "cpu" {
		return errors.Wrapf(ErrConfig, "device %q not supported (only cpu)", c.Device)
	}
	if err := c.Generator().Validate(c.ImgHeight, c.ImgWidth); err != nil {
		return errors.Wrapf(ErrConfig, "generator: %v", err)
	}
	if err := c.Discriminator().Validate(c.ImgHeight, c.ImgWidth); err != nil {
		return errors.Wrapf(ErrConfig, "discriminator: %v", err)
	}
	return nil
}

// maxExactInt is the largest integer every float64 number value holds exactly.
const maxExactInt = 1<<53 - 1

// field binds one hyperparameter key to its Config field. Exactly one of the
// pointers is set.
type field struct {
	key string
	i   *int
	f   *float64
	b   *bool
	str *string
}

// fields lists every recognised key in file order.
func (c *Config) fields() []field {
	return []field{
		{key: "num_epochs", i: &c.NumEpochs},
		{key: "checkpoint_interval", i: &c.CheckpointInterval},
		{key: "n_samples", i: &c.NSamples},
		{key: "batch_size", i: &c.BatchSize},
		{key: "seed", i: &c.Seed},
		{key: "img_height", i: &c.ImgHeight},
		{key: "img_width", i: &c.ImgWidth},
		{key: "channels", i: &c.Channels},
		{key: "n_features", i: &c.NFeatures},
		{key: "n_residual_blocks", i: &c.NResidualBlocks},
		{key: "n_downsampling", i: &c.NDownsampling},
		{key: "discriminator_layers", i: &c.DiscriminatorLayers},
		{key: "norm_type", str: &c.NormType},
		{key: "add_skip", b: &c.AddSkip},
		{key: "use_replay_buffer", b: &c.UseReplayBuffer},
		{key: "replay_buffer_size", i: &c.ReplayBufferSize},
		{key: "vanilla_loss", b: &c.VanillaLoss},
		{key: "cycle_loss_weight", f: &c.CycleLossWeight},
		{key: "id_loss_weight", f: &c.IDLossWeight},
		{key: "plp_loss_weight", f: &c.PLPLossWeight},
		{key: "plp_step", i: &c.PLPStep},
		{key: "plp_beta", f: &c.PLPBeta},
		{key: "lr", f: &c.LR},
		{key: "beta1", f: &c.Beta1},
		{key: "beta2", f: &c.Beta2},
		{key: "step_size", i: &c.StepSize},
		{key: "gamma", f: &c.Gamma},
		{key: "amp", b: &c.AMP},
		{key: "restart_path", str: &c.RestartPath},
		{key: "parameters_path", str: &c.ParametersPath},
		{key: "out_folder", str: &c.OutFolder},
		{key: "device", str: &c.Device},
	}
}

// set stores v into the field. A null value keeps the current setting.
func (f field) set(v *structpb.Value) error {
	if _, ok := v.GetKind().(*structpb.Value_NullValue); ok {
		return nil
	}
	switch {
	case f.i != nil:
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return errors.Wrapf(ErrConfig, "%s: want an integer, got %s", f.key, kindName(v))
		}
		x := n.NumberValue
		if x != math.Trunc(x) || math.Abs(x) > maxExactInt {
			return errors.Wrapf(ErrConfig, "%s: %v is not an exact integer", f.key, x)
		}
		*f.i = int(x)
	case f.f != nil:
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return errors.Wrapf(ErrConfig, "%s: want a number, got %s", f.key, kindName(v))
		}
		*f.f = n.NumberValue
	case f.b != nil:
		b, ok := v.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return errors.Wrapf(ErrConfig, "%s: want a boolean, got %s", f.key, kindName(v))
		}
		*f.b = b.BoolValue
	default:
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return errors.Wrapf(ErrConfig, "%s: want a string, got %s", f.key, kindName(v))
		}
		*f.str = s.StringValue
	}
	return nil
}

func (f field) value() *structpb.Value {
	switch {
	case f.i != nil:
		return structpb.NewNumberValue(float64(*f.i))
	case f.f != nil:
		return structpb.NewNumberValue(*f.f)
	case f.b != nil:
		return structpb.NewBoolValue(*f.b)
	}
	return structpb.NewStringValue(*f.str)
}

func kindName(v *structpb.Value) string {
	switch v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return "number"
	case *structpb.Value_StringValue:
		return "string"
	case *structpb.Value_BoolValue:
		return "boolean"
	case *structpb.Value_ListValue:
		return "list"
	case *structpb.Value_StructValue:
		return "object"
	}
	return "null"
}

// FromMap overlays m onto the defaults. Unknown keys and values of the wrong
// type are rejected; the result is validated.
func FromMap(m map[string]any) (Config, error) {
	for k, v := range m {
		if exceedsExact(v) {
			return Config{}, errors.Wrapf(ErrConfig, "%s: %v is not an exact integer", k, v)
		}
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return Config{}, errors.Wrapf(ErrConfig, "%v", err)
	}
	return FromStruct(s)
}

// exceedsExact reports Go integers that a float64 number value would round.
func exceedsExact(v any) bool {
	switch x := v.(type) {
	case int:
		return x > maxExactInt || x < -maxExactInt
	case int64:
		return x > maxExactInt || x < -maxExactInt
	case uint:
		return uint64(x) > maxExactInt
	case uint64:
		return x > maxExactInt
	}
	return false
}

// FromStruct overlays the fields of s onto the defaults and validates the result.
func FromStruct(s *structpb.Struct) (Config, error) {
	cfg := Default()
	byKey := make(map[string]field)
	for _, f := range cfg.fields() {
		byKey[f.key] = f
	}
	for key, v := range s.GetFields() {
		f, ok := byKey[key]
		if !ok {
			return Config{}, errors.Wrapf(ErrConfig, "unknown key %q", key)
		}
		if err := f.set(v); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Struct returns the configuration as a google.protobuf.Struct.
func (c Config) Struct() *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value)}
	for _, f := range c.fields() {
		s.Fields[f.key] = f.value()
	}
	return s
}

// Map returns the configuration as a flat key/value map.
func (c Config) Map() map[string]any {
	return c.Struct().AsMap()
}

// Load reads a JSON object of hyperparameters from path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: read %s", path)
	}
	var s structpb.Struct
	if err := protojson.Unmarshal(raw, &s); err != nil {
		return Config{}, errors.Wrapf(ErrConfig, "%s: %v", path, err)
	}
	cfg, err := FromStruct(&s)
	if err != nil {
		return Config{}, errors.Wrapf(err, "%s", path)
	}
	return cfg, nil
}

// Resolve applies ParametersPath. When it is set, the file's hyperparameters
// replace c's, except restart_path and out_folder which describe the current
// run. ParametersPath is cleared so a resolved config resolves to itself and
// the hyperparameters.json of the run is self-contained.
func Resolve(c Config) (Config, error) {
	if c.ParametersPath == "" {
		return c, c.Validate()
	}
	loaded, err := Load(c.ParametersPath)
	if err != nil {
		return Config{}, errors.Wrap(err, "parameters_path")
	}
	loaded.ParametersPath = ""
	loaded.RestartPath = c.RestartPath
	loaded.OutFolder = c.OutFolder
	return loaded, loaded.Validate()
}

// Save writes the configuration to path as an indented JSON object.
func (c Config) Save(path string) error {
	raw, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(c.Struct())
	if err != nil {
		return errors.Wrap(err, "config: encode")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "config: write %s", path)
	}
	return nil
}
