package service

import (
	"context"
	"errors"
	"time"

	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/repository"
	"github.com/labstack/gommon/log"
)

// Reconciler periodically re-checks outstanding payment links so a payment that
// nobody polls for still completes its transaction.
type Reconciler struct {
	txs      TransactionService
	txRepo   repository.TransactionRepository
	linkRepo repository.PaymentLinkRepository
	interval time.Duration
	batch    int
}

func NewReconciler(txs TransactionService, txRepo repository.TransactionRepository, linkRepo repository.PaymentLinkRepository, interval time.Duration) *Reconciler {
	return &Reconciler{txs: txs, txRepo: txRepo, linkRepo: linkRepo, interval: interval, batch: 100}
}

// Run sweeps every interval until ctx is done. A non-positive interval disables it.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				log.Warnf("[reconcile] stage=sweep_fail err=%v", err)
			}
		}
	}
}

// Sweep checks every active link once, paging by id, and returns how many
// transactions it completed.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	completed := 0
	var afterID uint64
	for {
		links, err := r.linkRepo.ListActive(ctx, afterID, r.batch)
		if err != nil {
			return completed, err
		}
		for _, l := range links {
			if ctx.Err() != nil {
				return completed, ctx.Err()
			}
			afterID = l.ID
			if r.check(ctx, l) {
				completed++
			}
		}
		if len(links) < r.batch {
			return completed, nil
		}
	}
}

func (r *Reconciler) check(ctx context.Context, l model.PaymentLink) bool {
	t, err := r.txRepo.FindByID(ctx, l.TransactionID)
	if err != nil {
		log.Warnf("[reconcile] tx=%d link=%s stage=load_fail err=%v", l.TransactionID, l.LinkID, err)
		return false
	}
	if t.Status.Terminal() {
		// the transaction settled another way
		if _, err := r.linkRepo.Retire(ctx, l.ID, model.PaymentLinkStatusCancelled); err != nil {
			log.Warnf("[reconcile] tx=%d link=%s stage=retire_fail err=%v", t.ID, l.LinkID, err)
		}
		return false
	}
	_, err = r.txs.ConfirmWithGateway(ctx, t.ID, l.LinkID, ActorSystem)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrNotPaid):
	default:
		log.Infof("[reconcile] tx=%d link=%s stage=confirm_skip err=%v", t.ID, l.LinkID, err)
	}
	return false
}
