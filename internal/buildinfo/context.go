// Package buildinfo holds build-time metadata kept apart from user configuration.
package buildinfo

// Version and BuildDate are set with -ldflags "-X".
var (
	Version   = ""
	BuildDate = ""
)

// Context carries build metadata and the device identity at runtime.
type Context struct {
	Version   string
	BuildDate string
	DeviceID  string
}

// Current returns the metadata linked into the binary.
func Current() *Context {
	return &Context{Version: Version, BuildDate: BuildDate}
}

// GetVersion returns the version or "unknown".
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return "unknown"
	}
	return c.Version
}

// GetBuildDate returns the build date or "unknown".
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return "unknown"
	}
	return c.BuildDate
}

// GetDeviceID returns the device id, empty until telemetry assigned one.
func (c *Context) GetDeviceID() string {
	if c == nil {
		return ""
	}
	return c.DeviceID
}
