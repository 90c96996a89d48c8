package logging

import (
	"context"
	"time"

	"github.com/commentpilot/user-service/internal/models"
	"gorm.io/gorm"
)

// PurgeSystemLogs deletes system_logs older than retentionDays and returns
// the number of rows removed.
func PurgeSystemLogs(ctx context.Context, db *gorm.DB, retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	result := db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
	return result.RowsAffected, result.Error
}
