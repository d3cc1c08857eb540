package webhook

import (
	"context"

	"github.com/mattjoyce/switchboard/internal/ledger"
)

// Topups applies provider-reported credit purchases.
type Topups interface {
	ApplyTopup(ctx context.Context, t ledger.Topup) (*ledger.Account, bool, error)
}

// EndpointConfig defines one provider endpoint as written in configuration.
type EndpointConfig struct {
	// Path is mounted under the billing API, e.g. "/webhooks/topup/paystack".
	Path     string `yaml:"path"`
	Provider string `yaml:"provider"`
	Secret   string `yaml:"secret"`

	// SignatureHeader carries the hex HMAC, optionally "sha256=" prefixed.
	SignatureHeader string `yaml:"signature_header"`

	// MaxBodySize accepts plain bytes or a KB/MB suffix. Empty means 1MB.
	MaxBodySize string `yaml:"max_body_size,omitempty"`
}

// TopupNotice is the JSON body a provider posts.
type TopupNotice struct {
	AccountNumber string `json:"account_number"`
	Credits       int64  `json:"credits"`
	Reference     string `json:"reference"`
}

// TopupResponse is returned for an accepted notice.
type TopupResponse struct {
	AccountNumber string `json:"account_number"`
	CreditBalance int64  `json:"credit_balance"`
	Applied       bool   `json:"applied"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Signature-256"
)

type endpoint struct {
	path            string
	provider        string
	secret          string
	signatureHeader string
	maxBodySize     int64
}
