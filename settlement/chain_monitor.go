package settlement

import "context"

// ChainMonitor follows payout transactions until they are buried deep enough
// for a withdrawal to count as confirmed.
type ChainMonitor interface {
	// WaitForConfirmations returns once txid has minConfs confirmations, or
	// with ctx's error. minConfs <= 0 returns immediately.
	WaitForConfirmations(ctx context.Context, txid string, minConfs int) error
}
