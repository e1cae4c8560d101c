package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var (
	ErrConfigFailedToSetDefaults = errors.New("error occurred while setting defaults")
	ErrConfigPath                = errors.New("config path error")
)

// Load builds the config from defaults, an optional YAML file in the given
// directories and ORD_* environment variables, in increasing precedence.
func Load(configFileDirs ...string) (*EmitterConfig, error) {
	cfg := getDefaultConfig()

	err := setDefaults(cfg)
	if err != nil {
		return nil, err
	}

	err = overrideWithFiles(configFileDirs...)
	if err != nil {
		return nil, err
	}

	viper.SetEnvPrefix("ORD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err = viper.Unmarshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(defaultConfig *EmitterConfig) error {
	defaultsMap := make(map[string]interface{})

	if err := mapstructure.Decode(defaultConfig, &defaultsMap); err != nil {
		return errors.Join(ErrConfigFailedToSetDefaults, err)
	}

	for key, value := range defaultsMap {
		viper.SetDefault(key, value)
	}

	return nil
}

func overrideWithFiles(configFileDirs ...string) error {
	if len(configFileDirs) == 0 || configFileDirs[0] == "" {
		return nil
	}

	for _, path := range configFileDirs {
		stat, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return errors.Join(ErrConfigPath, fmt.Errorf("path: %s does not exist", path))
			}
			return err
		}
		if !stat.IsDir() {
			return errors.Join(ErrConfigPath, fmt.Errorf("path: %s should be a directory", path))
		}

		viper.AddConfigPath(path)
	}

	return viper.ReadInConfig()
}
