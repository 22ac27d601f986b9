package common

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/nspcc-dev/js5cache/cmd/internal/configvalidator"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config keys, also bound to the persistent flags of the root command.
const (
	PathKey              = "path"
	KeysKey              = "keys"
	CompressionKey       = "compression"
	SectorFormatKey      = "sector_format"
	MasterIndexFormatKey = "master_index_format"
	WorkersKey           = "workers"
	DebugKey             = "debug"
)

// config lists the fields a configuration file may contain.
type config struct {
	Path              string `mapstructure:"path"`
	Keys              string `mapstructure:"keys"`
	Compression       string `mapstructure:"compression"`
	SectorFormat      string `mapstructure:"sector_format"`
	MasterIndexFormat string `mapstructure:"master_index_format"`
	Workers           int    `mapstructure:"workers"`
	Debug             bool   `mapstructure:"debug"`
}

// ConfigFile is the configuration file set by the --config flag.
var ConfigFile string

// InitConfig reads the configuration file and the JS5LENS_* environment
// variables.
func InitConfig() {
	viper.SetEnvPrefix("js5lens")
	viper.AutomaticEnv()

	if ConfigFile != "" {
		viper.SetConfigFile(ConfigFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".config/js5-lens")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && ConfigFile == "" {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	if err := configvalidator.CheckForUnknownFields(viper.AllSettings(), config{}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", viper.ConfigFileUsed(), err)
		os.Exit(1)
	}
}

// path returns a configured path with the home directory expanded.
func path(key string) (string, error) {
	p := cast.ToString(viper.Get(key))
	if p == "" {
		return "", nil
	}

	res, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("invalid %s %q: %w", key, p, err)
	}
	return res, nil
}

// Workers returns the configured number of verification workers.
func Workers() (int, error) {
	n, err := cast.ToIntE(viper.Get(WorkersKey))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", WorkersKey, err)
	}
	return n, nil
}
