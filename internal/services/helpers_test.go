package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/commentpilot/user-service/internal/database"
	"github.com/commentpilot/user-service/internal/models"
	"github.com/commentpilot/user-service/internal/notify"
	"github.com/commentpilot/user-service/internal/plans"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(sqlite.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

type sentEmail struct {
	To      string
	Subject string
}

type recordingSender struct {
	mu     sync.Mutex
	fail   bool
	sent   []sentEmail
	onSend func()
}

func (s *recordingSender) Send(_ context.Context, to, subject, _ string) bool {
	s.mu.Lock()
	hook := s.onSend
	s.onSend = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false
	}
	s.sent = append(s.sent, sentEmail{To: to, Subject: subject})
	return true
}

func (s *recordingSender) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Emit(_ context.Context, _ uuid.UUID, event string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// stubBilling honours the user's own status and can be told to fail or
// panic for specific users.
type stubBilling struct {
	failFor  map[uuid.UUID]bool
	panicFor map[uuid.UUID]bool
}

func (b *stubBilling) HasActiveSubscription(_ context.Context, user *models.User) (bool, error) {
	if b.panicFor[user.ID] {
		panic("billing client bug")
	}
	if b.failFor[user.ID] {
		return false, errors.New("billing provider unavailable")
	}
	return user.HasActiveSubscription(), nil
}

type fixture struct {
	db       *gorm.DB
	clock    *fakeClock
	recorder *RoleRecorder
	trials   *TrialService
	mailer   *notify.Mailer
	sender   *recordingSender
	sink     *recordingSink
	billing  *stubBilling
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:      newTestDB(t),
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

func (f *fixture) createUser(t *testing.T, email string, plan plans.Plan) *models.User {
	t.Helper()
	user := &models.User{Email: email, Password: "x", Plan: plan}
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		_, err := f.recorder.RecordInitial(tx, user, "system:registration", "account created", nil)
		return err
	}))
	return user
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.User {
	t.Helper()
	var user models.User
	require.NoError(t, f.db.First(&user, "id = ?", id).Error)
	return &user
}

func (f *fixture) history(t *testing.T, id uuid.UUID) []models.RoleChange {
	t.Helper()
	entries, err := f.recorder.History(context.Background(), id, 0)
	require.NoError(t, err)
	return entries
}

// startedTrial returns a user whose trial was granted at t0.
func (f *fixture) startedTrial(t *testing.T, email, profile string) *models.User {
	t.Helper()
	f.clock.Set(t0.Add(-time.Hour))
	user := f.createUser(t, email, plans.Free)
	f.clock.Set(t0)
	res, err := f.trials.StartTrial(context.Background(), user, profile)
	require.NoError(t, err)
	require.True(t, res.Granted())
	return user
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
