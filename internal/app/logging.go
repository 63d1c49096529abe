package app

import (
	"github.com/leafscan/leafscan/internal/conf"
	"github.com/leafscan/leafscan/internal/logger"
)

// SetupLogging installs the global logger described by s. Debug raises the
// console level to debug.
func SetupLogging(s *conf.Settings) error {
	level := s.Logging.Level
	if s.Debug {
		level = string(logger.LogLevelDebug)
	}
	cfg := &logger.LoggingConfig{
		DefaultLevel: level,
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: true, Level: level, JSON: s.Logging.JSON},
	}
	if s.Logging.File != "" {
		cfg.FileOutput = &logger.FileOutput{Enabled: true, Path: s.Logging.File, Level: level}
	}
	cl, err := logger.NewCentralLogger(cfg)
	if err != nil {
		return err
	}
	logger.SetGlobal(cl)
	return nil
}
