// Package conf loads the application settings from config.yaml, LEAFSCAN_*
// environment variables and command line flags.
package conf

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/secrets"
)

// Environments select the on-device database name.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Remote backends.
const (
	BackendREST = "rest"
	BackendSQL  = "sql"
)

// Settings contains all configuration options.
type Settings struct {
	Environment string `yaml:"environment"`
	UserID      string `yaml:"userid"` // account whose data this device syncs
	Debug       bool   `yaml:"debug"`

	Logging      LoggingSettings      `yaml:"logging"`
	Storage      StorageSettings      `yaml:"storage"`
	Remote       RemoteSettings       `yaml:"remote"`
	Scan         ScanSettings         `yaml:"scan"`
	Connectivity ConnectivitySettings `yaml:"connectivity"`
	Notify       NotifySettings       `yaml:"notify"`
	Telemetry    TelemetrySettings    `yaml:"telemetry"`
	HTTP         HTTPSettings         `yaml:"http"`
}

// LoggingSettings configures the central logger.
type LoggingSettings struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"` // empty logs to the console only
}

// StorageSettings configures the on-device database.
type StorageSettings struct {
	Dir           string        `yaml:"dir"`
	SchemaVersion int           `yaml:"schemaversion"`
	MinFreeBytes  uint64        `yaml:"minfreebytes"`
	BusyTimeout   time.Duration `yaml:"busytimeout"`
}

// RemoteSettings selects the sync backend.
type RemoteSettings struct {
	Backend    string        `yaml:"backend"` // rest or sql
	BaseURL    string        `yaml:"baseurl"`
	APIKey     string        `yaml:"apikey"`     // may reference ${VAR}
	APIKeyFile string        `yaml:"apikeyfile"` // takes precedence over APIKey
	Driver     string        `yaml:"driver"`     // mysql or sqlite, for the sql backend
	DSN        string        `yaml:"dsn"`
	DSNFile    string        `yaml:"dsnfile"`
	Migrate    bool          `yaml:"migrate"`
	RetryDelay time.Duration `yaml:"retrydelay"`
	Timeout    time.Duration `yaml:"timeout"`
	// SyncInterval is the period of background pulls in serve; 0 pulls only
	// at startup and when connectivity returns.
	SyncInterval time.Duration `yaml:"syncinterval"`
}

// ScanSettings configures the classifier and the pending queue.
type ScanSettings struct {
	Endpoint   string        `yaml:"endpoint"`
	Timeout    time.Duration `yaml:"timeout"`
	DrainDelay time.Duration `yaml:"draindelay"` // minimum gap between queued calls
	AutoCommit bool          `yaml:"autocommit"`
	CacheTTL   time.Duration `yaml:"cachettl"`
}

// ConnectivitySettings configures the reachability probe.
type ConnectivitySettings struct {
	ProbeURL string        `yaml:"probeurl"` // empty probes the remote base URL
	Interval time.Duration `yaml:"interval"`
}

// NotifySettings configures drain summary notifications.
type NotifySettings struct {
	Log  bool         `yaml:"log"`
	MQTT MQTTSettings `yaml:"mqtt"`
	URLs []string     `yaml:"urls"` // shoutrrr service URLs
}

// MQTTSettings configures the MQTT sink.
type MQTTSettings struct {
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	Topic        string `yaml:"topic"`
	ClientID     string `yaml:"clientid"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"passwordfile"`
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	SentryDSN  string  `yaml:"sentrydsn"`
	SampleRate float64 `yaml:"samplerate"`
}

// HTTPSettings configures the local API.
type HTTPSettings struct {
	Listen string `yaml:"listen"`
}

// DatabaseName is the on-device database file for the environment.
func (s *Settings) DatabaseName() string {
	if s.Environment == EnvProduction {
		return "leafscan.db"
	}
	return "leafscan_dev.db"
}

// ProbeURL is the connectivity probe target.
func (s *Settings) ProbeURL() string {
	if s.Connectivity.ProbeURL != "" {
		return s.Connectivity.ProbeURL
	}
	return s.Remote.BaseURL
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the settings through the global viper instance, which also
// carries the flags bound by the command line. configFile may be empty.
func Load(configFile string) (*Settings, error) {
	settings, err := LoadFrom(viper.GetViper(), configFile)
	if err != nil {
		return nil, err
	}
	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// GetSettings returns the settings of the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// LoadFrom reads and validates the settings using v.
func LoadFrom(v *viper.Viper, configFile string) (*Settings, error) {
	if err := initViper(v, configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}
	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// resolveSecrets replaces credentials with the contents of their secret
// files or their expanded ${VAR} references.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		file  string
		value *string
	}{
		{s.Remote.APIKeyFile, &s.Remote.APIKey},
		{s.Remote.DSNFile, &s.Remote.DSN},
		{s.Notify.MQTT.PasswordFile, &s.Notify.MQTT.Password},
		{"", &s.Telemetry.SentryDSN},
	}
	for _, f := range fields {
		v, err := secrets.Resolve(f.file, *f.value)
		if err != nil {
			return err
		}
		*f.value = v
	}
	return nil
}

// initViper sets defaults, binds the environment and reads the config file.
// Without a config file a default one is written.
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)
	if err := bindEnvVars(v); err != nil {
		logger.Global().Module("conf").Warn("environment issues", logger.Error(err))
	}

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		paths, err := GetDefaultConfigPaths()
		if err != nil {
			return err
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if configFile == "" && errors.As(err, &notFound) {
		return createDefaultConfig(v)
	}
	return errors.New(err).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("operation", "read-config").
		Build()
}

// createDefaultConfig writes the default settings to the user config directory.
func createDefaultConfig(v *viper.Viper) error {
	dir, err := userConfigDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "config.yaml")

	def := &Settings{}
	if err := v.Unmarshal(def); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryConfiguration).Build()
	}
	if err := SaveYAMLConfig(path, def); err != nil {
		return err
	}
	logger.Global().Module("conf").Info("created default config file", logger.String("path", path))
	v.SetConfigFile(path)
	return v.ReadInConfig()
}

// SaveYAMLConfig writes settings to path atomically.
func SaveYAMLConfig(path string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryConfiguration).Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fileError(err, path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "config-*.yaml")
	if err != nil {
		return fileError(err, path)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fileError(err, path)
	}
	if err := tmp.Close(); err != nil {
		return fileError(err, path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fileError(err, path)
	}
	return nil
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Build()
}
