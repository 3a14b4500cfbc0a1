package settlement

import (
	"context"

	"github.com/ThorbenD/dvp-market/domain"
)

// ChainWatcher monitors the payment rail for buyer deposits.
type ChainWatcher interface {
	// DetectDeposit blocks until a deposit with the given payment hash is
	// locked, or the context is cancelled.
	DetectDeposit(ctx context.Context, paymentHash string) (*domain.Deposit, error)

	// ClaimDeposit reveals the preimage to take the funds.
	// Returns the transaction (or settlement) id of the claim.
	ClaimDeposit(ctx context.Context, preimage string) (txID string, err error)
}
