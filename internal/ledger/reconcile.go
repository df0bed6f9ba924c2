package ledger

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LifetimeStore exposes the user-side lifetime projection for reconciliation.
type LifetimeStore interface {
	LifetimeWriter
	ListIDs(db *gorm.DB) ([]string, error)
	LifetimeXP(db *gorm.DB, userID string) (int64, error)
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	UsersChecked  int
	UsersRepaired int
}

// Reconciler rewrites lifetime XP projections that drifted from the history sum.
type Reconciler struct {
	ledger *Ledger
	store  LifetimeStore
	logger *zap.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(ledger *Ledger, store LifetimeStore, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{ledger: ledger, store: store, logger: logger}
}

// Run checks every user, each in its own transaction, and stops at the first storage error.
func (r *Reconciler) Run(ctx context.Context, db *gorm.DB) (ReconcileReport, error) {
	var report ReconcileReport
	userIDs, err := r.store.ListIDs(db.WithContext(ctx))
	if err != nil {
		return report, err
	}
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		repaired := false
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			total, sumErr := r.ledger.HistoryTotal(tx, userID)
			if sumErr != nil {
				return sumErr
			}
			stored, readErr := r.store.LifetimeXP(tx, userID)
			if readErr != nil {
				return readErr
			}
			if stored == total {
				return nil
			}
			r.logger.Warn("lifetime xp drift",
				zap.String("user_id", userID),
				zap.Int64("stored", stored),
				zap.Int64("history_total", total),
			)
			repaired = true
			return r.store.SetLifetimeXP(tx, userID, total)
		})
		if err != nil {
			r.logger.Error("reconcile user failed", zap.String("user_id", userID), zap.Error(err))
			return report, err
		}
		report.UsersChecked++
		if repaired {
			report.UsersRepaired++
		}
	}
	return report, nil
}
