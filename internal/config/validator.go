package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validatePort(cfg.Query.DefaultPort, "query.default_port", result)
	if cfg.Query.TimeoutSec < 1 {
		result.AddError("query.timeout_sec", "timeout must be at least 1 second")
	}

	validateServers(cfg.Servers, result)

	if cfg.Poller.Enabled {
		if cfg.Poller.IntervalSec < 1 {
			result.AddError("poller.interval_sec", "interval must be at least 1 second")
		} else if cfg.Poller.IntervalSec < 10 {
			result.AddWarning("poller.interval_sec",
				"interval less than 10s may flood the polled servers")
		}
		if cfg.Poller.IntervalSec > 0 && cfg.Poller.IntervalSec <= cfg.Query.TimeoutSec {
			result.AddWarning("poller.interval_sec",
				"interval not greater than query timeout, polls may overlap")
		}
		if len(cfg.Servers) == 0 {
			result.AddWarning("servers", "poller enabled with no servers configured")
		}
	}

	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.AllowLiveQuery && cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps",
				"rate limit is disabled (0 RPS), live queries are unbounded")
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
		if strings.TrimSpace(cfg.MQTT.TopicPrefix) == "" {
			result.AddError("mqtt.topic_prefix", "topic prefix is required when enabled")
		}
	}

	if strings.TrimSpace(cfg.Database.Path) == "" {
		result.AddError("database.path", "database path is required")
	}
	if cfg.Database.RetentionDays < 1 {
		result.AddError("database.retention_days", "retention days must be at least 1")
	}

	return result
}

func validateServers(servers []ServerTarget, result *ValidationResult) {
	seen := make(map[string]bool, len(servers))
	for i, s := range servers {
		field := fmt.Sprintf("servers[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			result.AddError(field+".name", "server name is required")
		} else if seen[s.Name] {
			result.AddError(field+".name", fmt.Sprintf("duplicate server name %q", s.Name))
		}
		seen[s.Name] = true

		if strings.TrimSpace(s.Host) == "" {
			result.AddError(field+".host", "server host is required")
		}
		validatePort(s.Port, field+".port", result)
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
