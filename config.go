package relaycache

import (
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration file. Everything in it has
// a sensible default; the listening port always comes from the command
// line.
type FileConfig struct {
	MaxEntries     int    `yaml:"maxEntries"`
	CleanupSeconds int    `yaml:"cleanupSeconds"`
	AdminAddr      string `yaml:"adminAddr"`
	LogFile        string `yaml:"logFile"`
	EventDB        string `yaml:"eventDb"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
