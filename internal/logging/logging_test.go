package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/commentpilot/user-service/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type failingHandler struct{}

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("boom") }

func (f failingHandler) WithAttrs([]slog.Attr) slog.Handler { return f }

func (f failingHandler) WithGroup(string) slog.Handler { return f }

func TestMultiHandler_FansOutAndKeepsGoing(t *testing.T) {
	var buf bytes.Buffer
	jsonHandler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(failingHandler{}, jsonHandler)).With("component", "test")
	logger.Info("hello", "user_id", "u1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "test", line["component"])
	assert.Equal(t, "u1", line["user_id"])
}

func TestMultiHandler_EnabledIfAnyHandlerIs(t *testing.T) {
	var buf bytes.Buffer
	errorOnly := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError})
	debug := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	assert.False(t, NewMultiHandler(errorOnly).Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, NewMultiHandler(errorOnly, debug).Enabled(context.Background(), slog.LevelInfo))
}

func openLogDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.SystemLog{}))
	return db
}

func TestPGHandler_StoresErrorsWithLiftedAttrs(t *testing.T) {
	db := openLogDB(t)
	h := NewPGHandler(db)

	logger := slog.New(h).With("component", "trial_sweeper")
	logger.Info("ignored")
	logger.Error("expire trial failed", "user_id", "abc", "error", "db down", "attempt", 2)
	h.Stop()

	var logs []models.SystemLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "trial_sweeper", logs[0].Component)
	assert.Equal(t, "db down", logs[0].Error)
	require.NotNil(t, logs[0].UserID)
	assert.Equal(t, "abc", *logs[0].UserID)
	assert.Contains(t, string(logs[0].Extra), "attempt")
}

func TestPurgeSystemLogs(t *testing.T) {
	db := openLogDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(&models.SystemLog{Timestamp: now.AddDate(0, 0, -40), Level: "ERROR"}).Error)
	require.NoError(t, db.Create(&models.SystemLog{Timestamp: now.AddDate(0, 0, -1), Level: "ERROR"}).Error)

	deleted, err := PurgeSystemLogs(context.Background(), db, 30, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	var remaining int64
	require.NoError(t, db.Model(&models.SystemLog{}).Count(&remaining).Error)
	assert.EqualValues(t, 1, remaining)
}
