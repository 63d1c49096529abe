package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets a default for every key, which also makes every key
// visible to the environment binding.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)
	v.SetDefault("userid", "")
	v.SetDefault("debug", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.file", "")

	v.SetDefault("storage.dir", "data")
	v.SetDefault("storage.schemaversion", 3)
	v.SetDefault("storage.minfreebytes", uint64(10<<20))
	v.SetDefault("storage.busytimeout", 5*time.Second)

	v.SetDefault("remote.backend", BackendREST)
	v.SetDefault("remote.baseurl", "")
	v.SetDefault("remote.apikey", "")
	v.SetDefault("remote.apikeyfile", "")
	v.SetDefault("remote.driver", "mysql")
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.dsnfile", "")
	v.SetDefault("remote.migrate", false)
	v.SetDefault("remote.retrydelay", 5*time.Second)
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.syncinterval", 5*time.Minute)

	v.SetDefault("scan.endpoint", "")
	v.SetDefault("scan.timeout", 60*time.Second)
	v.SetDefault("scan.draindelay", 2*time.Second)
	v.SetDefault("scan.autocommit", true)
	v.SetDefault("scan.cachettl", 30*time.Minute)

	v.SetDefault("connectivity.probeurl", "")
	v.SetDefault("connectivity.interval", 15*time.Second)

	v.SetDefault("notify.log", true)
	v.SetDefault("notify.mqtt.enabled", false)
	v.SetDefault("notify.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("notify.mqtt.topic", "leafscan/pending")
	v.SetDefault("notify.mqtt.clientid", "leafscan")
	v.SetDefault("notify.mqtt.username", "")
	v.SetDefault("notify.mqtt.password", "")
	v.SetDefault("notify.mqtt.passwordfile", "")
	v.SetDefault("notify.urls", []string{})

	v.SetDefault("telemetry.sentrydsn", "")
	v.SetDefault("telemetry.samplerate", 1.0)

	v.SetDefault("http.listen", "127.0.0.1:8080")
}
