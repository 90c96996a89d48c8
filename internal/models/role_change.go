package models

import (
	"time"

	"github.com/commentpilot/user-service/internal/plans"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RoleChange is one append-only audit row per plan change. OldPlan is nil
// only for the initial assignment at account creation.
type RoleChange struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index:idx_role_changes_user_changed,priority:1" json:"user_id"`
	OldPlan   *plans.Plan    `gorm:"size:20" json:"old_plan"`
	NewPlan   plans.Plan     `gorm:"size:20;not null" json:"new_plan"`
	ChangedAt time.Time      `gorm:"not null;index:idx_role_changes_user_changed,priority:2" json:"changed_at"`
	ChangedBy string         `gorm:"size:100;not null" json:"changed_by"`
	Reason    string         `gorm:"size:500" json:"reason"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	User      User           `gorm:"foreignKey:UserID" json:"-"`
}

func (RoleChange) TableName() string {
	return "role_change_history"
}

func (rc *RoleChange) BeforeCreate(tx *gorm.DB) error {
	if rc.ID == uuid.Nil {
		rc.ID = uuid.New()
	}
	return nil
}
