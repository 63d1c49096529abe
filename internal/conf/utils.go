package conf

import (
	"os"
	"path/filepath"

	"github.com/leafscan/leafscan/internal/errors"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in order: the working directory, the user config directory and /etc.
func GetDefaultConfigPaths() ([]string, error) {
	userDir, err := userConfigDir()
	if err != nil {
		return nil, err
	}
	return []string{".", userDir, "/etc/leafscan"}, nil
}

func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}
	return filepath.Join(home, ".config", "leafscan"), nil
}

// FindConfigFile returns the first existing config.yaml on the search path.
func FindConfigFile() (string, error) {
	paths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		file := filepath.Join(p, "config.yaml")
		if _, err := os.Stat(file); err == nil {
			return file, nil
		}
	}
	return "", errors.Newf("config file not found").
		Component("conf").
		Category(errors.CategoryNotFound).
		Context("operation", "find-config-file").
		Build()
}
