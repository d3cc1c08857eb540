package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/webhook"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a config file, then applies defaults, SWITCHBOARD_* environment
// overrides, and validation, in that order.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	cfg.Fingerprint = hashBytes(data)
	return cfg, nil
}

// Parse decodes YAML config bytes and applies defaults, environment
// overrides, and validation.
func Parse(data []byte) (*Config, error) {
	if err := checkUnresolvedEnvVars(string(data)); err != nil {
		return nil, err
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from SWITCHBOARD_* environment variables.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// applyConfigDefaults fills values an explicit empty YAML field cleared.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.Service.PIDFile == "" {
		cfg.Service.PIDFile = filepath.Join(filepath.Dir(cfg.State.Path), "switchboard.pid")
	}
	cfg.NATS.Subjects = cfg.NATS.Subjects.WithDefaults()
	if cfg.Ledger.CreditFactor == 0 {
		cfg.Ledger.CreditFactor = defaults.Ledger.CreditFactor
	}
	if cfg.Scheduler.Workers == nil {
		cfg.Scheduler.Workers = make(map[string]string)
	}
	if cfg.Accounts == nil {
		cfg.Accounts = make(map[string]AccountConfig)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// checkUnresolvedEnvVars rejects references to unset variables.
func checkUnresolvedEnvVars(input string) error {
	var missing []string
	seen := make(map[string]bool)
	for _, m := range envVarPattern.FindAllStringSubmatch(input, -1) {
		name := m[1]
		if _, ok := os.LookupEnv(name); ok || seen[name] {
			continue
		}
		seen[name] = true
		missing = append(missing, name)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("unresolved environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Validate checks cross-field constraints.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api is enabled")
	}
	for i, tok := range cfg.API.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("api.tokens[%d]: token is empty", i)
		}
		for _, scope := range tok.Scopes {
			if !auth.KnownScope(scope) {
				return fmt.Errorf("api.tokens[%d]: unknown scope %q", i, scope)
			}
		}
	}

	if err := webhook.ValidateEndpoints(cfg.API.Webhooks); err != nil {
		return fmt.Errorf("api.webhooks: %w", err)
	}

	if cfg.Billing.Enabled && cfg.Billing.URL == "" {
		return fmt.Errorf("billing.url is required when billing is enabled")
	}
	if cfg.Billing.RetryDelay < 0 || cfg.Billing.Timeout < 0 {
		return fmt.Errorf("billing.retry_delay and billing.timeout must not be negative")
	}

	if cfg.Ledger.CreditFactor < 0 {
		return fmt.Errorf("ledger.credit_factor must not be negative")
	}
	for _, th := range cfg.Ledger.AlertThresholds {
		if th <= 0 || th >= 100 {
			return fmt.Errorf("ledger.alert_thresholds must be between 1 and 99 (got %d)", th)
		}
	}

	if cfg.Scheduler.Granularity <= 0 {
		return fmt.Errorf("scheduler.granularity must be positive")
	}
	if cfg.Scheduler.Interval < cfg.Scheduler.Granularity {
		return fmt.Errorf("scheduler.interval must be at least scheduler.granularity")
	}
	for convType, name := range cfg.Scheduler.Workers {
		if name == "" {
			return fmt.Errorf("scheduler.workers[%s]: worker name is empty", convType)
		}
	}

	if cfg.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval must be positive")
	}
	if cfg.Metrics.ReconcileDelta < 0 {
		return fmt.Errorf("metrics.reconcile_delta must not be negative")
	}

	seen := make(map[string]bool)
	for _, w := range cfg.Workers {
		if w == "" {
			return fmt.Errorf("workers: worker name is empty")
		}
		if seen[w] {
			return fmt.Errorf("workers: duplicate worker %q", w)
		}
		seen[w] = true
	}

	for accountKey, acct := range cfg.Accounts {
		for convKey, chains := range acct.Conversations {
			for eventType, specs := range chains {
				for i, spec := range specs {
					if spec.Name == "" {
						return fmt.Errorf("accounts.%s.conversations.%s.%s[%d]: handler name is empty",
							accountKey, convKey, eventType, i)
					}
				}
			}
		}
	}
	return nil
}
