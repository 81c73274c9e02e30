package reinforcement

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"trackworld/grid_world"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// OuterConfig is the envelope of every config file: a kind and its definition.
type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// CONFIG_KIND is the only config kind this app reads.
const CONFIG_KIND = "trackworld"

// Config is the app config: the environment to train on and how to train.
type Config struct {
	Environment grid_world.EnvConfig `yaml:"environment"`
	Training    TrainingConfig       `yaml:"training"`
}

// TrainingConfig holds standard RL params like learning rates, gamma, epsilons
// for agent policy behavior, plus how long and how wide to train.
type TrainingConfig struct {
	// HyperParams is a key-val pair of param names and their value.
	HyperParams []HyperParameter `yaml:"hyperparams"`
	// TrainingDeadline is a duration describing when to terminate training.
	TrainingDeadline map[string]string `yaml:"trainingdeadline"`
	// Workers is the number of episode generating agents; zero means one per cpu.
	Workers int `yaml:"workers"`
	// Seed seeds the agents' policies; zero seeds from the clock.
	Seed int64 `yaml:"seed"`
}

type HyperParameter struct {
	Key string  `yaml:"key"`
	Val float64 `yaml:"val"`
}

// DefaultConfig trains on the straight track with the usual alpha-MC params.
func DefaultConfig() *Config {
	return &Config{
		Environment: grid_world.DefaultEnvConfig(),
		Training: TrainingConfig{
			HyperParams: []HyperParameter{
				{Key: "epsilon", Val: 0.1},
				{Key: "eta", Val: 0.05},
				{Key: "gamma", Val: 0.99},
			},
		},
	}
}

func (cfg *TrainingConfig) GetHyperParamOrDefault(param string, defaultVal float64) float64 {
	for _, kvp := range cfg.HyperParams {
		if kvp.Key == param {
			return kvp.Val
		}
	}
	return defaultVal
}

// WithTrainingDeadline returns a context extended by the training deadline, if one is specified.
func (cfg *TrainingConfig) WithTrainingDeadline(
	ctx context.Context,
) (context.Context, context.CancelFunc, error) {
	if val, ok := cfg.TrainingDeadline["duration"]; ok {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return nil, nil, fmt.Errorf("training deadline: %w", err)
		}
		innerCtx, cancel := context.WithTimeout(ctx, duration)
		return innerCtx, cancel, nil
	}
	defaultCtx, cancel := context.WithCancel(ctx)
	return defaultCtx, cancel, nil
}

// FromYaml reads the {kind, def} envelope with viper and decodes the def
// section into a Config.
func FromYaml(path string) (*Config, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))
	var err error
	if err = vp.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	outerConfig := &OuterConfig{}
	if err = vp.Unmarshal(outerConfig); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if outerConfig.Kind != CONFIG_KIND {
		return nil, fmt.Errorf("%w: config kind %q, want %q", grid_world.ErrInvalidConfig, outerConfig.Kind, CONFIG_KIND)
	}

	var def []byte
	if def, err = yaml.Marshal(outerConfig.Def); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err = yaml.Unmarshal(def, config); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return config, nil
}
