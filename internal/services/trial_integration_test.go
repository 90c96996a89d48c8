//go:build integration

package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/commentpilot/user-service/internal/database"
	"github.com/commentpilot/user-service/internal/models"
	"github.com/commentpilot/user-service/internal/notify"
	"github.com/commentpilot/user-service/internal/plans"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
)

func newPostgresFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Open(gormpostgres.Open(dsn))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(20)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	f := &fixture{
		db:      db,
		clock:   &fakeClock{now: t0.Add(-time.Hour)},
		sender:  &recordingSender{},
		sink:    &recordingSink{},
		billing: &stubBilling{failFor: map[uuid.UUID]bool{}, panicFor: map[uuid.UUID]bool{}},
	}
	f.recorder = NewRoleRecorder(f.db)
	f.mailer = notify.NewMailer(f.sender, "https://commentpilot.app")
	f.trials = NewTrialService(f.db, f.recorder, f.billing, f.mailer, f.sink).WithClock(f.clock.Now)
	return f
}

func TestIntegration_ConcurrentStartTrialSameProfile(t *testing.T) {
	f := newPostgresFixture(t)

	const accounts = 8
	users := make([]*models.User, accounts)
	for i := range users {
		users[i] = f.createUser(t, fmt.Sprintf("user%d@example.com", i), plans.Free)
	}
	f.clock.Set(t0)

	results := make([]TrialStartResult, accounts)
	errs := make([]error, accounts)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.trials.StartTrial(context.Background(), users[i], " Jane-Doe-123 ")
		}(i)
	}
	close(start)
	wg.Wait()

	granted := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Granted() {
			granted++
			continue
		}
		assert.Equal(t, TrialProfileInUse, results[i].Outcome)
	}
	assert.Equal(t, 1, granted)

	var owners int64
	require.NoError(t, f.db.Model(&models.User{}).
		Where("linkedin_profile_id_hash = ?", HashProfileID("jane-doe-123")).
		Count(&owners).Error)
	assert.EqualValues(t, 1, owners)

	var premium int64
	require.NoError(t, f.db.Model(&models.User{}).Where("plan = ?", plans.Premium).Count(&premium).Error)
	assert.EqualValues(t, 1, premium)
}

func TestIntegration_ConcurrentStartTrialSameUser(t *testing.T) {
	f := newPostgresFixture(t)
	user := f.createUser(t, "jane@example.com", plans.Free)
	f.clock.Set(t0)

	const callers = 6
	results := make([]TrialStartResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			copyOf := *user
			res, err := f.trials.StartTrial(context.Background(), &copyOf, "jane-doe-123")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, res := range results {
		if res.Granted() {
			granted++
		}
	}
	assert.Equal(t, 1, granted)

	var changes int64
	require.NoError(t, f.db.Model(&models.RoleChange{}).
		Where("user_id = ? AND new_plan = ?", user.ID, plans.Premium).
		Count(&changes).Error)
	assert.EqualValues(t, 1, changes)
}

func TestIntegration_SoftDeletedOwnerStillBlocksProfile(t *testing.T) {
	f := newPostgresFixture(t)
	owner := f.startedTrial(t, "owner@example.com", "jane-doe-123")
	require.NoError(t, f.db.Delete(owner).Error)

	other := f.createUser(t, "other@example.com", plans.Free)
	res, err := f.trials.StartTrial(context.Background(), other, "JANE-DOE-123")
	require.NoError(t, err)
	assert.Equal(t, TrialProfileInUse, res.Outcome)
	assert.Equal(t, plans.Free, f.reload(t, other.ID).Plan)
}
