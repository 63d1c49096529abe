package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/leafscan/leafscan/internal/errors"
)

// ValidationError represents a collection of validation errors.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return "invalid settings: " + strings.Join(ve.Errors, "; ")
}

// ValidateSettings checks every section and reports all problems at once.
func ValidateSettings(s *Settings) error {
	ve := ValidationError{}
	add := func(err error) {
		if err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if s.Environment != EnvDevelopment && s.Environment != EnvProduction {
		add(fmt.Errorf("environment must be %s or %s, got %q", EnvDevelopment, EnvProduction, s.Environment))
	}
	add(validateStorage(&s.Storage))
	add(validateRemote(&s.Remote))
	add(validateScan(&s.Scan))
	add(validateNotify(&s.Notify))
	if s.Connectivity.ProbeURL != "" {
		add(validateHTTPURL("connectivity.probeurl", s.Connectivity.ProbeURL))
	}
	if s.HTTP.Listen != "" {
		if _, _, err := net.SplitHostPort(s.HTTP.Listen); err != nil {
			add(fmt.Errorf("http.listen: %w", err))
		}
	}
	if s.Telemetry.SampleRate < 0 || s.Telemetry.SampleRate > 1 {
		add(fmt.Errorf("telemetry.samplerate must be between 0 and 1"))
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func validateStorage(s *StorageSettings) error {
	if s.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if s.SchemaVersion < 1 {
		return fmt.Errorf("storage.schemaversion must be positive")
	}
	return nil
}

func validateRemote(r *RemoteSettings) error {
	switch r.Backend {
	case BackendREST:
		if r.BaseURL != "" {
			return validateHTTPURL("remote.baseurl", r.BaseURL)
		}
	case BackendSQL:
		if r.Driver != "mysql" && r.Driver != "sqlite" {
			return fmt.Errorf("remote.driver must be mysql or sqlite, got %q", r.Driver)
		}
		if r.DSN == "" {
			return fmt.Errorf("remote.dsn is required for the sql backend")
		}
	default:
		return fmt.Errorf("remote.backend must be %s or %s, got %q", BackendREST, BackendSQL, r.Backend)
	}
	if r.RetryDelay < 0 || r.Timeout < 0 || r.SyncInterval < 0 {
		return fmt.Errorf("remote durations must not be negative")
	}
	return nil
}

func validateScan(s *ScanSettings) error {
	if s.Endpoint != "" {
		if err := validateHTTPURL("scan.endpoint", s.Endpoint); err != nil {
			return err
		}
	}
	if s.Timeout < 0 || s.DrainDelay < 0 || s.CacheTTL < 0 {
		return fmt.Errorf("scan durations must not be negative")
	}
	return nil
}

func validateNotify(n *NotifySettings) error {
	if n.MQTT.Enabled {
		if n.MQTT.Broker == "" || n.MQTT.Topic == "" {
			return fmt.Errorf("notify.mqtt needs a broker and a topic")
		}
	}
	return nil
}

func validateHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	return nil
}
