package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/commentpilot/user-service/internal/metrics"
	"github.com/commentpilot/user-service/internal/models"
)

// Reconciler applies an overdue trial or grace expiry on the request path.
// It only looks at the already loaded user and never fails the request.
type Reconciler struct {
	trials *TrialService
}

func NewReconciler(trials *TrialService) *Reconciler {
	return &Reconciler{trials: trials}
}

func (r *Reconciler) Reconcile(ctx context.Context, user *models.User) {
	if user == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			metrics.Trial().RecordReconcileError()
			slog.Error("reconcile panicked", "component", "reconciler", "user_id", user.ID.String(), "error", fmt.Sprint(rec))
		}
	}()

	now := r.trials.Now()
	if user.WindowsOverlap(now) {
		slog.Warn("trial and grace windows overlap", "component", "reconciler", "user_id", user.ID.String(), "plan", user.Plan)
	}

	var err error
	switch {
	case user.TrialElapsed(now):
		_, err = r.trials.ExpireTrial(ctx, user)
	case user.GraceElapsed(now):
		_, err = r.trials.ExpireGrace(ctx, user)
	}
	if err != nil {
		metrics.Trial().RecordReconcileError()
		slog.Error("reconcile failed", "component", "reconciler", "user_id", user.ID.String(), "error", err)
	}
}
