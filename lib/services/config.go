package services

import (
	"errors"
	"os"

	"astroquery/lib/client"
	"astroquery/lib/configutil"
	configlibsql "astroquery/lib/configutil/libsql"
)

// ConfigNames are the file names searched for, from the working directory upwards.
var ConfigNames = []string{"astroquery.json5", "astroquery.yaml", "astroquery.yml"}

// Config is the application configuration file.
type Config struct {
	// Services overrides or adds services by name.
	Services map[string]client.Config `json:"services" yaml:"services"`
	// Cache locates the persistent response cache, results are only kept in memory when empty.
	Cache configlibsql.Struct `json:"cache" yaml:"cache"`
	// Listen is the address `serve` binds to.
	Listen string `json:"listen" yaml:"listen"`
}

// LoadConfig reads path, or searches for ConfigNames when path is empty. A missing file is
// not an error, the zero Config is returned.
func LoadConfig(path string) (Config, error) {
	var config Config
	var err error
	if path != "" {
		config, err = configutil.ReadConfig[Config](path)
	} else {
		config, _, err = configutil.ReadFirst[Config](ConfigNames...)
	}
	if errors.Is(err, os.ErrNotExist) && path == "" {
		return Config{}, nil
	}
	return config, err
}

// Registry is the builtin registry with the configured overrides applied.
func (c Config) Registry() (Registry, error) {
	return Builtin().Override(c.Services)
}
