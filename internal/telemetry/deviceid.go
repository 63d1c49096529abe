package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/leafscan/leafscan/internal/errors"
)

const deviceIDFile = ".device_id"

// GenerateDeviceID returns a random id formatted as XXXX-XXXX-XXXX.
func GenerateDeviceID() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", errors.New(err).Component("telemetry").Category(errors.CategoryGeneric).Build()
	}
	id := strings.ToUpper(hex.EncodeToString(b))
	return id[0:4] + "-" + id[4:8] + "-" + id[8:12], nil
}

// LoadOrCreateDeviceID reads the device id stored in dir, creating it on
// first use.
func LoadOrCreateDeviceID(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", storageError(err, dir)
	}
	path := filepath.Join(dir, deviceIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); isValidDeviceID(id) {
			return id, nil
		}
	}
	id, err := GenerateDeviceID()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", storageError(err, path)
	}
	return id, nil
}

func storageError(err error, path string) error {
	return errors.New(err).
		Component("telemetry").
		Category(errors.CategoryStorage).
		Context("path", path).
		Build()
}

func isValidDeviceID(id string) bool {
	if len(id) != 14 || id[4] != '-' || id[9] != '-' {
		return false
	}
	for i, r := range id {
		if i == 4 || i == 9 {
			continue
		}
		if !strings.ContainsRune("0123456789ABCDEFabcdef", r) {
			return false
		}
	}
	return true
}
