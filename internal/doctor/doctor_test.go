package doctor

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/dispatch"
	"github.com/mattjoyce/switchboard/internal/webhook"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Workers = []string{"bulk_message_worker"}
	cfg.Scheduler.Workers = map[string]string{"bulk_message": "bulk_message_worker"}
	cfg.Billing.CutoffNotice = "Out of credit."
	cfg.Accounts = map[string]config.AccountConfig{
		"acc": {Conversations: map[string]map[string][]dispatch.HandlerSpec{
			"conv": {"inbound_message": {
				{Name: "send_command", Config: map[string]any{"worker_name": "bulk_message_worker", "command": "process"}},
				{Name: "log"},
			}},
		}},
	}
	return cfg
}

func builtins() *dispatch.HandlerRegistry {
	r := dispatch.NewHandlerRegistry()
	_ = dispatch.RegisterBuiltins(r, nil, slog.Default())
	return r
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(), builtins()).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_UnknownHandler(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Accounts["acc"].Conversations["conv"]["inbound_message"][1].Name = "page_oncall"
	r := New(cfg, builtins()).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "handlers", `unknown handler "page_oncall"`)
}

func TestValidate_SendCommandMissingFields(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Accounts["acc"].Conversations["conv"]["inbound_message"][0].Config = map[string]any{}
	r := New(cfg, builtins()).Validate()
	assertHasError(t, r, "handlers", "requires worker_name")
	assertHasError(t, r, "handlers", "requires command")
}

func TestValidate_RemoteWorkerWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Workers = nil
	r := New(cfg, builtins()).Validate()
	if !r.Valid {
		t.Fatalf("remote workers are not an error: %v", r.Errors)
	}
	assertHasWarning(t, r, "handlers", "not served by this process")
	assertHasWarning(t, r, "scheduler", "not served by this process")
}

func TestValidate_SchedulerWithoutMapping(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Scheduler.Workers = map[string]string{}
	r := New(cfg, builtins()).Validate()
	assertHasWarning(t, r, "scheduler", "no metrics will be collected")
}

func TestValidate_UnevenSchedule(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Scheduler.Granularity = 500 * time.Millisecond
	cfg.Scheduler.Interval = 7*time.Second + 250*time.Millisecond
	r := New(cfg, builtins()).Validate()
	assertHasWarning(t, r, "scheduler", "not a multiple of granularity")
	assertHasWarning(t, r, "scheduler", "very short")
}

func TestValidate_APIWithoutAuth(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	r := New(cfg, builtins()).Validate()
	assertHasError(t, r, "api", "no admin_token or tokens")
}

func TestValidate_EventFeedWithoutAuth(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Service.EventsListen = "127.0.0.1:8082"
	r := New(cfg, builtins()).Validate()
	assertHasError(t, r, "api", "event feed enabled")
}

func TestValidate_APITokens(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.AdminToken = "root"
	cfg.API.Tokens = []auth.TokenConfig{
		{Token: "t1", Scopes: []string{auth.ScopeBillingRW}},
		{Token: "t1", Scopes: []string{auth.ScopeRoutingRO}},
		{Token: "root", Scopes: []string{auth.ScopeEventsRO}},
		{Token: "bare"},
	}
	cfg.API.Webhooks = []webhook.EndpointConfig{{Path: "/webhooks/topup/p", Provider: "p", Secret: "short"}}
	r := New(cfg, builtins()).Validate()
	assertHasError(t, r, "api", "duplicates api.tokens[0]")
	assertHasWarning(t, r, "api", "equals admin_token")
	assertHasWarning(t, r, "api", "no scopes")
	assertHasWarning(t, r, "api", "shorter than 16")
}

func TestValidate_BillingWarnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Billing.Enabled = true
	cfg.Billing.URL = "http://billing"
	cfg.Billing.CutoffNotice = ""
	cfg.Billing.RetryDelay = 20 * time.Second
	r := New(cfg, builtins()).Validate()
	assertHasWarning(t, r, "billing", "no bearer token")
	assertHasWarning(t, r, "billing", "not shorter than timeout")
	assertHasWarning(t, r, "billing", "default cutoff notice")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	if out := FormatHuman(&Result{Valid: true}); !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "odd"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") || !strings.Contains(out, "WARN") {
		t.Fatalf("expected error and warning in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
