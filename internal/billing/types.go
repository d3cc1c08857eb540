package billing

import (
	"errors"
	"fmt"
	"time"
)

// TransactionTypeMessage is the only transaction type the dispatcher creates.
const TransactionTypeMessage = "Message"

// TransactionRequest is the body of POST /transactions.
type TransactionRequest struct {
	AccountNumber    string   `json:"account_number"`
	MessageID        string   `json:"message_id"`
	TagPoolName      string   `json:"tag_pool_name"`
	TagName          string   `json:"tag_name"`
	Provider         string   `json:"provider"`
	MessageDirection string   `json:"message_direction"`
	SessionCreated   bool     `json:"session_created"`
	SessionLength    *float64 `json:"session_length"`
	TransactionType  string   `json:"transaction_type"`
}

// Validate checks the fields the ledger cannot do without.
func (r TransactionRequest) Validate() error {
	switch {
	case r.AccountNumber == "":
		return fmt.Errorf("account_number is required")
	case r.MessageID == "":
		return fmt.Errorf("message_id is required")
	case r.TagPoolName == "" || r.TagName == "":
		return fmt.Errorf("tag_pool_name and tag_name are required")
	case r.MessageDirection != "Inbound" && r.MessageDirection != "Outbound":
		return fmt.Errorf("message_direction must be Inbound or Outbound, got %q", r.MessageDirection)
	}
	if r.SessionLength != nil && *r.SessionLength < 0 {
		return fmt.Errorf("session_length must not be negative")
	}
	return nil
}

// Transaction is an immutable ledger record.
type Transaction struct {
	ID               string    `json:"id"`
	AccountNumber    string    `json:"account_number"`
	MessageID        string    `json:"message_id"`
	TagPoolName      string    `json:"tag_pool_name"`
	TagName          string    `json:"tag_name"`
	Provider         string    `json:"provider"`
	MessageDirection string    `json:"message_direction"`
	SessionCreated   bool      `json:"session_created"`
	SessionLength    *float64  `json:"session_length"`
	MessageCost      int64     `json:"message_cost"`
	SessionCost      int64     `json:"session_cost"`
	Markup           float64   `json:"markup_percent"`
	CreditAmount     int64     `json:"credit_amount"`
	Status           string    `json:"status"`
	Created          time.Time `json:"created"`
}

// TransactionResponse is the body returned by POST /transactions.
type TransactionResponse struct {
	Transaction         Transaction `json:"transaction"`
	CreditCutoffReached bool        `json:"credit_cutoff_reached"`
}

// ErrBilling matches every error returned by the billing client.
var ErrBilling = errors.New("billing error")

// NetworkError is a transport-level failure talking to the billing service.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("billing network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrBilling }

// ServiceError is a non-200 response from the billing service.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("billing service returned %d: %s", e.StatusCode, e.Body)
}

func (e *ServiceError) Is(target error) bool { return target == ErrBilling }
