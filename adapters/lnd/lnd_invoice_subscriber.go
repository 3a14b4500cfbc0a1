package lnd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ThorbenD/dvp-market/settlement"
)

// DepositHandler is the interface that the subscriber calls when a deposit is detected.
// settlement.Checkout implements it.
type DepositHandler interface {
	OnDepositDetected(ctx context.Context, paymentHash string) error
}

// LndInvoiceSubscriber listens to LND invoice updates and hands accepted
// (held) invoices to a DepositHandler.
type LndInvoiceSubscriber struct {
	lnd     settlement.LightningClient
	handler DepositHandler
	backoff time.Duration
	logger  *slog.Logger

	inflight sync.WaitGroup // handler calls
}

// NewLndInvoiceSubscriber creates a subscriber that bridges LND events to the handler.
func NewLndInvoiceSubscriber(lnd settlement.LightningClient, handler DepositHandler, logger *slog.Logger) *LndInvoiceSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &LndInvoiceSubscriber{
		lnd:     lnd,
		handler: handler,
		backoff: 5 * time.Second,
		logger:  logger,
	}
}

// Run listens until ctx is done, reconnecting after stream failures. It
// always returns ctx.Err(), and only once every handler call it started has
// returned.
func (s *LndInvoiceSubscriber) Run(ctx context.Context) error {
	err := s.run(ctx)
	s.logger.Info("🔌 [LndInvoiceSubscriber] Waiting for in-flight deposits...")
	s.inflight.Wait()
	return err
}

func (s *LndInvoiceSubscriber) run(ctx context.Context) error {
	s.logger.Info("🔌 [LndInvoiceSubscriber] Connecting to LND Invoice Stream...")

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("🔌 [LndInvoiceSubscriber] Context cancelled, stopping.")
			return err
		}

		updates, errs, err := s.lnd.SubscribeInvoices(ctx)
		if err != nil {
			s.logger.Error("❌ [LndInvoiceSubscriber] Failed to subscribe, retrying", "error", err, "backoff", s.backoff)
			if !s.wait(ctx, s.backoff) {
				return ctx.Err()
			}
			continue
		}

		s.logger.Info("✅ [LndInvoiceSubscriber] Listening for Invoices...")
		if !s.stream(ctx, updates, errs) {
			return ctx.Err()
		}

		// backoff before reconnecting
		if !s.wait(ctx, time.Second) {
			return ctx.Err()
		}
	}
}

// stream drains one subscription. It reports false once ctx is done.
func (s *LndInvoiceSubscriber) stream(ctx context.Context, updates <-chan *settlement.InvoiceUpdate, errs <-chan error) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case err, ok := <-errs:
			if !ok {
				s.logger.Warn("⚠️ [LndInvoiceSubscriber] Error stream closed.")
				return true
			}
			s.logger.Error("❌ [LndInvoiceSubscriber] Stream error, reconnecting", "error", err)
			return true
		case update, ok := <-updates:
			if !ok {
				s.logger.Warn("⚠️ [LndInvoiceSubscriber] Update stream closed. Reconnecting...")
				return true
			}

			// We care about ACCEPTED (Hold Invoice Paid)
			if update.State == settlement.InvoiceAccepted {
				s.inflight.Add(1)
				go func(hash string) {
					defer s.inflight.Done()
					if err := s.handler.OnDepositDetected(context.WithoutCancel(ctx), hash); err != nil {
						s.logger.Error("❌ [LndInvoiceSubscriber] OnDepositDetected failed", "hash", hash, "error", err)
					}
				}(update.Hash)
			}
		}
	}
}

func (s *LndInvoiceSubscriber) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
