package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/commentpilot/user-service/internal/cache"
	"github.com/commentpilot/user-service/internal/metrics"
	"github.com/commentpilot/user-service/internal/models"
	"github.com/commentpilot/user-service/internal/notify"
	"github.com/commentpilot/user-service/internal/plans"
	"github.com/commentpilot/user-service/internal/scheduler"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SweepLockKey guards the sweep across instances.
const SweepLockKey = "lock:trial-sweep"

type SweepStats struct {
	TrialsExpired int  `json:"trials_expired"`
	GracesExpired int  `json:"graces_expired"`
	RemindersSent int  `json:"reminders_sent"`
	Errors        int  `json:"errors"`
	Skipped       bool `json:"skipped,omitempty"`
}

// TrialSweeper is the scheduled counterpart of the Reconciler: it finds every
// user with an elapsed window and drives the same TrialService transitions.
type TrialSweeper struct {
	db      *gorm.DB
	trials  *TrialService
	mailer  *notify.Mailer
	locker  cache.Locker
	limiter *rate.Limiter
	lockTTL time.Duration
	log     *slog.Logger
}

func NewTrialSweeper(db *gorm.DB, trials *TrialService, mailer *notify.Mailer, locker cache.Locker, reminderRate float64, lockTTL time.Duration) *TrialSweeper {
	limit := rate.Inf
	if reminderRate > 0 {
		limit = rate.Limit(reminderRate)
	}
	if locker == nil {
		locker = cache.NoopLocker{}
	}
	return &TrialSweeper{
		db:      db,
		trials:  trials,
		mailer:  mailer,
		locker:  locker,
		limiter: rate.NewLimiter(limit, 1),
		lockTTL: lockTTL,
		log:     slog.Default().With("component", "trial_sweeper"),
	}
}

// Start runs Sweep every interval until ctx is canceled.
func (s *TrialSweeper) Start(ctx context.Context, interval time.Duration) <-chan struct{} {
	return scheduler.Every(ctx, "trial_sweep", interval, true, func(ctx context.Context) {
		s.Sweep(ctx)
	})
}

// Sweep never returns an error: failures are logged and counted in the
// returned stats, one user's failure never stops the others.
func (s *TrialSweeper) Sweep(ctx context.Context) (stats SweepStats) {
	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			stats.Errors++
			s.log.Error("sweep aborted", "error", fmt.Sprint(rec))
		}
		metrics.Trial().ObserveSweep(time.Since(started))
	}()

	acquired, release, err := s.locker.TryLock(ctx, SweepLockKey, s.lockTTL)
	if err != nil {
		s.log.Warn("sweep lock unavailable, running unlocked", "error", err)
	} else if !acquired {
		s.log.Info("sweep already running elsewhere, skipping")
		stats.Skipped = true
		return stats
	} else {
		defer release()
	}

	now := s.trials.Now()

	for _, user := range s.dueUsers(ctx, &stats, "plan = ? AND trial_ends_at IS NOT NULL AND trial_ends_at <= ?", plans.Premium, now) {
		if s.process(ctx, &stats, user, s.trials.ExpireTrial) {
			stats.TrialsExpired++
		}
	}

	for _, user := range s.dueUsers(ctx, &stats, "plan = ? AND grace_ends_at IS NOT NULL AND grace_ends_at <= ?", plans.Medium, now) {
		if s.process(ctx, &stats, user, s.trials.ExpireGrace) {
			stats.GracesExpired++
		}
	}

	s.sendReminders(ctx, &stats, now)

	s.log.Info("sweep finished",
		"trials_expired", stats.TrialsExpired,
		"graces_expired", stats.GracesExpired,
		"reminders_sent", stats.RemindersSent,
		"errors", stats.Errors,
	)
	return stats
}

func (s *TrialSweeper) dueUsers(ctx context.Context, stats *SweepStats, query string, args ...any) []models.User {
	var users []models.User
	if err := s.db.WithContext(ctx).Where(query, args...).Find(&users).Error; err != nil {
		s.fail(stats, nil, fmt.Errorf("failed to query due users: %w", err))
		return nil
	}
	return users
}

// process runs one transition with its own panic boundary.
func (s *TrialSweeper) process(ctx context.Context, stats *SweepStats, user models.User, transition func(context.Context, *models.User) (bool, error)) (changed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			changed = false
			s.fail(stats, &user, fmt.Errorf("panic: %v", rec))
		}
	}()

	changed, err := transition(ctx, &user)
	if err != nil {
		s.fail(stats, &user, err)
		return false
	}
	return changed
}

func (s *TrialSweeper) sendReminders(ctx context.Context, stats *SweepStats, now time.Time) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("plan = ? AND trial_ends_at > ? AND trial_ends_at <= ? AND trial_reminder_sent_at IS NULL",
			plans.Premium, now, now.Add(ReminderWindow)).
		Find(&users).Error
	if err != nil {
		s.fail(stats, nil, fmt.Errorf("failed to query reminder candidates: %w", err))
		return
	}

	for i := range users {
		user := &users[i]
		if err := s.limiter.Wait(ctx); err != nil {
			s.log.Warn("reminder pass interrupted", "error", err)
			return
		}

		claimed, err := s.claimReminder(ctx, user.ID, now)
		if err != nil {
			s.fail(stats, user, err)
			continue
		}
		if !claimed {
			continue
		}

		daysLeft := int(math.Ceil(user.TrialEndsAt.Sub(now).Hours() / 24))
		if !s.mailer.TrialExpiringSoon(ctx, user, daysLeft) {
			s.log.Warn("trial reminder not delivered, will retry next sweep", "user_id", user.ID.String())
			if err := s.releaseReminder(ctx, user.ID, now); err != nil {
				s.fail(stats, user, err)
			}
			continue
		}

		stats.RemindersSent++
		metrics.Trial().RecordReminderSent()
	}
}

// claimReminder marks the reminder as sent before the email goes out, so
// only one of several overlapping sweeps sends it.
func (s *TrialSweeper) claimReminder(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND trial_reminder_sent_at IS NULL", userID).
		Update("trial_reminder_sent_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim reminder: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// releaseReminder undoes our own claim after a failed send.
func (s *TrialSweeper) releaseReminder(ctx context.Context, userID uuid.UUID, claimedAt time.Time) error {
	err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&models.User{}).
		Where("id = ? AND trial_reminder_sent_at = ?", userID, claimedAt).
		Update("trial_reminder_sent_at", nil).Error
	if err != nil {
		return fmt.Errorf("failed to release reminder claim: %w", err)
	}
	return nil
}

func (s *TrialSweeper) fail(stats *SweepStats, user *models.User, err error) {
	stats.Errors++
	metrics.Trial().RecordSweepError()
	sentry.CaptureException(err)
	if user != nil {
		s.log.Error("sweep step failed", "user_id", user.ID.String(), "error", err)
		return
	}
	s.log.Error("sweep step failed", "error", err)
}
