package config

import (
	"time"

	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/bus"
	"github.com/mattjoyce/switchboard/internal/dispatch"
	"github.com/mattjoyce/switchboard/internal/webhook"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SWITCHBOARD_"

// Config represents the complete switchboard configuration.
type Config struct {
	Service   ServiceConfig            `yaml:"service" envPrefix:"SERVICE_"`
	State     StateConfig              `yaml:"state" envPrefix:"STATE_"`
	NATS      NATSConfig               `yaml:"nats" envPrefix:"NATS_"`
	API       APIConfig                `yaml:"api" envPrefix:"API_"`
	Billing   BillingConfig            `yaml:"billing" envPrefix:"BILLING_"`
	Ledger    LedgerConfig             `yaml:"ledger" envPrefix:"LEDGER_"`
	Scheduler SchedulerConfig          `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Metrics   MetricsConfig            `yaml:"metrics" envPrefix:"METRICS_"`
	Workers   []string                 `yaml:"workers" env:"WORKERS"`
	Accounts  map[string]AccountConfig `yaml:"accounts"`

	// SourcePath is the absolute path of the loaded file.
	SourcePath string `yaml:"-"`
	// Fingerprint is the BLAKE3 digest of the loaded file.
	Fingerprint string `yaml:"-"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	Name      string `yaml:"name" env:"NAME"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
	PIDFile   string `yaml:"pid_file" env:"PID_FILE"` // defaults next to the state db

	// EventsListen, when set, serves /healthz and the /events feed of the
	// control plane using the api section's tokens.
	EventsListen string `yaml:"events_listen" env:"EVENTS_LISTEN"`
}

// StateConfig contains SQLite state settings.
type StateConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// NATSConfig contains broker settings.
type NATSConfig struct {
	URL      string       `yaml:"url" env:"URL"`
	Subjects bus.Subjects `yaml:"subjects" envPrefix:"SUBJECT_"`
}

// APIConfig contains the billing REST service settings.
type APIConfig struct {
	Enabled    bool               `yaml:"enabled" env:"ENABLED"`
	Listen     string             `yaml:"listen" env:"LISTEN"`
	AdminToken string             `yaml:"admin_token" env:"ADMIN_TOKEN"`
	Tokens     []auth.TokenConfig `yaml:"tokens"`

	// Webhooks are payment provider top-up endpoints.
	Webhooks []webhook.EndpointConfig `yaml:"webhooks"`
}

// BillingConfig contains the billing dispatcher settings.
type BillingConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	URL          string        `yaml:"url" env:"URL"`
	Token        string        `yaml:"token" env:"TOKEN"`
	RetryDelay   time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	CutoffNotice string        `yaml:"cutoff_notice" env:"CUTOFF_NOTICE"`
}

// LedgerConfig contains the ledger cost model settings.
type LedgerConfig struct {
	CreditFactor    float64 `yaml:"credit_factor" env:"CREDIT_FACTOR"`
	AlertThresholds []int   `yaml:"alert_thresholds" env:"ALERT_THRESHOLDS"`
}

// SchedulerConfig contains the metrics collection cycle settings.
type SchedulerConfig struct {
	Enabled     bool              `yaml:"enabled" env:"ENABLED"`
	Interval    time.Duration     `yaml:"interval" env:"INTERVAL"`
	Granularity time.Duration     `yaml:"granularity" env:"GRANULARITY"`
	Workers     map[string]string `yaml:"workers"` // conversation type -> worker name
}

// MetricsConfig contains worker metrics settings.
type MetricsConfig struct {
	Interval       time.Duration `yaml:"interval" env:"INTERVAL"`
	ReconcileDelta float64       `yaml:"reconcile_delta" env:"RECONCILE_DELTA"`
}

// AccountConfig holds per-account event handler chains, keyed by
// conversation key then event type.
type AccountConfig struct {
	Conversations map[string]map[string][]dispatch.HandlerSpec `yaml:"conversations"`
}

// Defaults returns a Config with the standard defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "switchboard",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		NATS: NATSConfig{
			URL:      "nats://127.0.0.1:4222",
			Subjects: bus.DefaultSubjects(),
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
		Billing: BillingConfig{
			RetryDelay: 500 * time.Millisecond,
			Timeout:    10 * time.Second,
		},
		Ledger: LedgerConfig{
			CreditFactor:    1,
			AlertThresholds: []int{50, 20, 10},
		},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			Interval:    5 * time.Minute,
			Granularity: 5 * time.Second,
			Workers:     make(map[string]string),
		},
		Metrics: MetricsConfig{
			Interval:       time.Minute,
			ReconcileDelta: 0.01,
		},
		Accounts: make(map[string]AccountConfig),
	}
}

// HandlerConfig builds the event handler source from the accounts section.
func (c *Config) HandlerConfig() *dispatch.StaticHandlerConfig {
	out := dispatch.NewStaticHandlerConfig()
	for accountKey, acct := range c.Accounts {
		for convKey, chains := range acct.Conversations {
			for eventType, specs := range chains {
				out.Set(accountKey, convKey, eventType, specs)
			}
		}
	}
	return out
}
