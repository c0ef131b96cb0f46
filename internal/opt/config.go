package opt

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"
)

// Config holds the ambient, file-based configuration this linker reads
// before looking at argv: default library search directories, mirroring
// the way ld itself ships a built-in search path on top of whatever
// -L flags a caller supplies.
type Config struct {
	SearchDir []string `mapstructure:"search_directories" default:"[\"/usr/lib\",\"/usr/lib/x86_64-linux-gnu\",\"/lib\"]"`
}

// LoadConfig reads path (if it exists) via viper, falling back to
// Config's struct-tag defaults for anything the file doesn't set.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}

	if path == "" {
		return cfg, nil
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config from %q: %w", path, err)
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
