package runtime

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/wippyai/wasm-scripting/engine"
	"github.com/wippyai/wasm-scripting/errors"
)

// Config is the host configuration file.
type Config struct {
	Engine EngineConfig `yaml:"engine"`

	// APINamespace is the import module natives are resolved under.
	APINamespace string `yaml:"api_namespace"`

	// Resources are loaded by LoadConfigured, in order.
	Resources []ResourceConfig `yaml:"resources"`
}

// EngineConfig extends the engine settings with a switch for running
// without an engine, where every load fails but the host stays up.
type EngineConfig struct {
	engine.Config `yaml:",inline"`
	Disabled      bool `yaml:"disabled"`
}

// ResourceConfig lists the scripts of one resource.
type ResourceConfig struct {
	Name string `yaml:"name"`
	// Dir is prepended to relative script paths.
	Dir     string   `yaml:"dir"`
	Scripts []string `yaml:"scripts"`
	// NoMain loads scripts without running their entry point.
	NoMain bool `yaml:"no_main"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{Config: engine.Config{
			Mode: engine.ModeAuto,
			WASI: true,
		}},
		APINamespace: "env",
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseParse, errors.KindNotFound, err, "read config "+path)
	}
	return ParseConfig(b)
}

// ParseConfig decodes YAML configuration on top of DefaultConfig.
func ParseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	switch c.Engine.Mode {
	case "", engine.ModeAuto, engine.ModeCompiler, engine.ModeInterpreter:
	default:
		return errors.InvalidInput(errors.PhaseParse, "unknown engine mode "+string(c.Engine.Mode))
	}
	seen := make(map[string]bool)
	for _, r := range c.Resources {
		if r.Name == "" {
			return errors.InvalidInput(errors.PhaseParse, "resource without name")
		}
		if seen[r.Name] {
			return errors.InvalidInput(errors.PhaseParse, "duplicate resource "+r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}
