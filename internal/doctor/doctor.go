// Package doctor validates switchboard configuration beyond what the loader
// enforces: handler chain references, worker wiring, and auth setup.
package doctor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/dispatch"
)

const minWebhookSecret = 16

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the registered event handlers.
type Doctor struct {
	cfg      *config.Config
	handlers *dispatch.HandlerRegistry
}

// New creates a Doctor from a loaded config and handler registry.
func New(cfg *config.Config, handlers *dispatch.HandlerRegistry) *Doctor {
	return &Doctor{cfg: cfg, handlers: handlers}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateHandlerChains(r)
	d.validateSchedulerWorkers(r)
	d.validateAPIConfig(r)
	d.validateBilling(r)
	d.warnSuspiciousSchedule(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validateHandlerChains checks that every configured handler exists and
// that send_command handlers name a worker and command.
func (d *Doctor) validateHandlerChains(r *Result) {
	for _, acctKey := range sortedKeys(d.cfg.Accounts) {
		acct := d.cfg.Accounts[acctKey]
		for _, convKey := range sortedKeys(acct.Conversations) {
			chains := acct.Conversations[convKey]
			for _, eventType := range sortedKeys(chains) {
				for i, spec := range chains[eventType] {
					field := fmt.Sprintf("accounts.%s.conversations.%s.%s[%d]", acctKey, convKey, eventType, i)
					if _, ok := d.handlers.Lookup(spec.Name); !ok {
						d.addError(r, "handlers", field, fmt.Sprintf("unknown handler %q", spec.Name))
						continue
					}
					if spec.Name == dispatch.HandlerSendCommand {
						d.checkSendCommand(r, field, spec.Config)
					}
				}
			}
		}
	}
}

func (d *Doctor) checkSendCommand(r *Result, field string, cfg map[string]any) {
	worker, _ := cfg["worker_name"].(string)
	command, _ := cfg["command"].(string)
	if worker == "" {
		d.addError(r, "handlers", field+".config.worker_name", "send_command requires worker_name")
	}
	if command == "" {
		d.addError(r, "handlers", field+".config.command", "send_command requires command")
	}
	if worker != "" && !d.isLocalWorker(worker) {
		d.addWarning(r, "handlers", field+".config.worker_name",
			fmt.Sprintf("worker %q is not served by this process; it must be served elsewhere", worker))
	}
}

func (d *Doctor) isLocalWorker(name string) bool {
	for _, w := range d.cfg.Workers {
		if w == name {
			return true
		}
	}
	return false
}

// validateSchedulerWorkers checks the conversation type to worker mapping.
func (d *Doctor) validateSchedulerWorkers(r *Result) {
	if !d.cfg.Scheduler.Enabled {
		return
	}
	if len(d.cfg.Scheduler.Workers) == 0 {
		d.addWarning(r, "scheduler", "scheduler.workers",
			"scheduler enabled but no conversation types are mapped to workers; no metrics will be collected")
		return
	}
	for _, convType := range sortedKeys(d.cfg.Scheduler.Workers) {
		worker := d.cfg.Scheduler.Workers[convType]
		if !d.isLocalWorker(worker) {
			d.addWarning(r, "scheduler", "scheduler.workers."+convType,
				fmt.Sprintf("worker %q is not served by this process", worker))
		}
	}
}

// validateAPIConfig checks billing REST service settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	noAuth := d.cfg.API.AdminToken == "" && len(d.cfg.API.Tokens) == 0
	if d.cfg.Service.EventsListen != "" && noAuth {
		d.addError(r, "api", "service.events_listen", "event feed enabled but no admin_token or tokens configured")
	}
	if !d.cfg.API.Enabled {
		return
	}
	if noAuth {
		d.addError(r, "api", "api", "API enabled but no admin_token or tokens configured")
	}
	seen := make(map[string]int)
	for i, tok := range d.cfg.API.Tokens {
		field := fmt.Sprintf("api.tokens[%d]", i)
		if prev, dup := seen[tok.Token]; dup {
			d.addError(r, "api", field, fmt.Sprintf("token duplicates api.tokens[%d]", prev))
		}
		seen[tok.Token] = i
		if tok.Token == d.cfg.API.AdminToken && tok.Token != "" {
			d.addWarning(r, "api", field, "token equals admin_token; its scopes are ignored")
		}
		if len(tok.Scopes) == 0 {
			d.addWarning(r, "api", field+".scopes", "token has no scopes and can only reach /healthz")
		}
	}
	for i, hook := range d.cfg.API.Webhooks {
		if len(hook.Secret) < minWebhookSecret {
			d.addWarning(r, "api", fmt.Sprintf("api.webhooks[%d].secret", i),
				fmt.Sprintf("secret shorter than %d characters", minWebhookSecret))
		}
	}
}

// validateBilling checks billing dispatcher settings.
func (d *Doctor) validateBilling(r *Result) {
	if !d.cfg.Billing.Enabled {
		return
	}
	if d.cfg.Billing.Token == "" {
		d.addWarning(r, "billing", "billing.token", "billing client sends no bearer token")
	}
	if d.cfg.Billing.Timeout > 0 && d.cfg.Billing.RetryDelay >= d.cfg.Billing.Timeout {
		d.addWarning(r, "billing", "billing.retry_delay", "retry_delay is not shorter than timeout")
	}
	if strings.TrimSpace(d.cfg.Billing.CutoffNotice) == "" {
		d.addWarning(r, "billing", "billing.cutoff_notice", "using the default cutoff notice")
	}
}

// warnSuspiciousSchedule warns about cycles that do not split evenly or
// tick very fast.
func (d *Doctor) warnSuspiciousSchedule(r *Result) {
	s := d.cfg.Scheduler
	if !s.Enabled || s.Granularity <= 0 {
		return
	}
	if s.Interval%s.Granularity != 0 {
		d.addWarning(r, "scheduler", "scheduler.interval",
			fmt.Sprintf("interval %s is not a multiple of granularity %s; the remainder is dropped", s.Interval, s.Granularity))
	}
	if s.Granularity < time.Second {
		d.addWarning(r, "scheduler", "scheduler.granularity",
			fmt.Sprintf("granularity %s is very short (< 1s)", s.Granularity))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
