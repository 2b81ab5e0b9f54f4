package facade

import (
	"context"
	"errors"
	"fmt"

	"go-txstream-sse/internal/domain"
	"go-txstream-sse/internal/infrastructure/logger"
	"go-txstream-sse/internal/port/inbound"
	"go-txstream-sse/internal/port/outbound"
)

type StreamAccessService struct {
	validator *domain.TxRefValidator
	identity  outbound.IdentityResolver
	store     outbound.TransactionStore
	logger    logger.Logger
}

var _ inbound.StreamAccessUseCase = (*StreamAccessService)(nil)

func NewStreamAccessService(
	validator *domain.TxRefValidator,
	identity outbound.IdentityResolver,
	store outbound.TransactionStore,
	log logger.Logger,
) *StreamAccessService {
	return &StreamAccessService{
		validator: validator,
		identity:  identity,
		store:     store,
		logger:    log.WithField("service", "stream_access"),
	}
}

// Authorize runs the checks in order: reference syntax, caller identity,
// then ownership. The first failing check decides the error.
func (s *StreamAccessService) Authorize(ctx context.Context, req inbound.StreamAccessRequest) (string, error) {
	if err := s.validator.Validate(req.TxRef); err != nil {
		return "", err
	}

	userID, err := s.identity.Resolve(ctx, req.AccessToken)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			return "", err
		}
		// An unreachable auth server cannot vouch for the caller.
		s.logger.WithError(err).Warn("Identity resolution failed")
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	tx, err := s.store.Get(ctx, req.TxRef)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return "", err
		}
		return "", fmt.Errorf("lookup transaction: %w", err)
	}

	if tx.UserID != userID {
		s.logger.WithFields(logger.Fields{
			"tx_ref":  req.TxRef,
			"user_id": userID,
		}).Warn("Stream requested for a transaction owned by another user")
		return "", domain.ErrForbidden
	}
	return userID, nil
}
