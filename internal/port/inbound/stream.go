package inbound

import "context"

// StreamAccessRequest is what a caller presents when opening a stream.
type StreamAccessRequest struct {
	TxRef       string
	AccessToken string
}

// StreamAccessUseCase decides whether a caller may watch a transaction.
// Authorize returns the caller's user id, or one of the domain errors
// ErrInvalidTxRef, ErrUnauthenticated, ErrTransactionNotFound or
// ErrForbidden. Any other error is an infrastructure failure.
type StreamAccessUseCase interface {
	Authorize(ctx context.Context, req StreamAccessRequest) (string, error)
}
