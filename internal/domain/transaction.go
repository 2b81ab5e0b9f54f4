package domain

import (
	"errors"
	"fmt"
	"regexp"
)

// DefaultTxRefPrefix is the namespace used by the payment flow when minting
// transaction references.
const DefaultTxRefPrefix = "TFT"

var (
	ErrInvalidTxRef        = errors.New("invalid transaction reference")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrForbidden           = errors.New("transaction belongs to another user")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// TransactionStatus is the lifecycle state of a wallet transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusConfirmed TransactionStatus = "confirmed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

// IsValid reports whether s is one of the known statuses.
func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further status change is expected.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusCancelled
}

// TxRefValidator checks transaction references of the form
// PREFIX_<unix millis>_<alphanumeric suffix>.
type TxRefValidator struct {
	prefix  string
	pattern *regexp.Regexp
}

func NewTxRefValidator(prefix string) (*TxRefValidator, error) {
	if prefix == "" {
		prefix = DefaultTxRefPrefix
	}
	pattern, err := regexp.Compile(`^` + regexp.QuoteMeta(prefix) + `_\d+_[a-zA-Z0-9]+$`)
	if err != nil {
		return nil, fmt.Errorf("compile tx_ref pattern: %w", err)
	}
	return &TxRefValidator{prefix: prefix, pattern: pattern}, nil
}

// MustTxRefValidator is NewTxRefValidator for static prefixes.
func MustTxRefValidator(prefix string) *TxRefValidator {
	v, err := NewTxRefValidator(prefix)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *TxRefValidator) Prefix() string { return v.prefix }

// Validate returns ErrInvalidTxRef when txRef is empty or malformed.
func (v *TxRefValidator) Validate(txRef string) error {
	if txRef == "" {
		return fmt.Errorf("%w: tx_ref is required", ErrInvalidTxRef)
	}
	if !v.pattern.MatchString(txRef) {
		return fmt.Errorf("%w: %q", ErrInvalidTxRef, txRef)
	}
	return nil
}
