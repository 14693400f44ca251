package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// maxDatagram is the largest UDP payload over IPv4.
const maxDatagram = 65507

// ValidationErrors collects every problem found in a Config.
type ValidationErrors struct {
	Problems []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Problems) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, p := range e.Problems {
		sb.WriteString(fmt.Sprintf("  - %s\n", p))
	}
	return sb.String()
}

func (e *ValidationErrors) addf(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks the config and reports every invalid key at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.Source.Username == "" {
		errs.addf("source.username is required (set TAU_SOURCE_USERNAME or --username)")
	}
	if c.Source.Password == "" {
		errs.addf("source.password is required (set TAU_SOURCE_PASSWORD or --password)")
	}

	checkPort(errs, "source.port", c.Source.Port)
	checkPort(errs, "mount.port", c.Mount.Port)
	if c.Source.Port == c.Mount.Port {
		errs.addf("source.port and mount.port must differ (both %d)", c.Mount.Port)
	}

	if c.UDP.Enabled {
		checkPort(errs, "udp.port", c.UDP.Port)
		if c.UDP.MaxDatagram < 1 || c.UDP.MaxDatagram > maxDatagram {
			errs.addf("udp.max_datagram must be between 1 and %d, got %d", maxDatagram, c.UDP.MaxDatagram)
		}
	}

	if strings.Trim(c.Mount.Path, "/") == "" {
		errs.addf("mount.path must not be empty")
	} else if strings.ContainsAny(c.Mount.Path, " ?#") {
		errs.addf("mount.path %q must be a plain path", c.Mount.Path)
	}

	if c.Source.Backoff < 0 {
		errs.addf("source.backoff must not be negative")
	}
	if c.Source.WarnInterval <= 0 {
		errs.addf("source.warn_interval must be positive")
	}
	if c.Mount.HeaderTimeout < 0 {
		errs.addf("mount.header_timeout must not be negative")
	}
	if c.Bus.Capacity < 1 {
		errs.addf("bus.capacity must be >= 1, got %d", c.Bus.Capacity)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs.addf("logging.level: %v", err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func checkPort(errs *ValidationErrors, key string, port int) {
	if port < 1 || port > 65535 {
		errs.addf("%s must be between 1 and 65535, got %d", key, port)
	}
}
