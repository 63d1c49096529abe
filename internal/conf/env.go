package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/leafscan/leafscan/internal/errors"
)

// EnvPrefix prefixes every environment variable, e.g. LEAFSCAN_REMOTE_APIKEY.
const EnvPrefix = "LEAFSCAN"

// envBinding holds metadata for environment variable bindings with a value check.
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"environment", "LEAFSCAN_ENV", validateEnvEnvironment},
		{"debug", "LEAFSCAN_DEBUG", validateEnvBool},
		{"remote.baseurl", "LEAFSCAN_REMOTE_URL", validateEnvURL},
		{"remote.retrydelay", "LEAFSCAN_REMOTE_RETRYDELAY", validateEnvDuration},
		{"scan.endpoint", "LEAFSCAN_SCAN_URL", validateEnvURL},
		{"scan.timeout", "LEAFSCAN_SCAN_TIMEOUT", validateEnvDuration},
		{"scan.autocommit", "LEAFSCAN_SCAN_AUTOCOMMIT", validateEnvBool},
	}
}

// bindEnvVars maps LEAFSCAN_<SECTION>_<KEY> onto every key and binds the
// short aliases above. Invalid alias values are reported but still bound;
// ValidateSettings rejects what cannot be used.
func bindEnvVars(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var warnings []string
	for _, b := range getEnvBindings() {
		if err := v.BindEnv(b.ConfigKey, "LEAFSCAN_"+strings.ToUpper(strings.ReplaceAll(b.ConfigKey, ".", "_")), b.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
			continue
		}
		if val := os.Getenv(b.EnvVar); val != "" && b.Validate != nil {
			if err := b.Validate(val); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", b.EnvVar, val, err))
			}
		}
	}
	if len(warnings) > 0 {
		return errors.Newf("environment variable issues: %s", strings.Join(warnings, "; ")).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateEnvBool(value string) error {
	_, err := strconv.ParseBool(value)
	return err
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d < 0 {
		return errors.NewStd("must not be negative")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewStd("scheme must be http or https")
	}
	return nil
}

func validateEnvEnvironment(value string) error {
	if value != EnvDevelopment && value != EnvProduction {
		return fmt.Errorf("must be %s or %s", EnvDevelopment, EnvProduction)
	}
	return nil
}
