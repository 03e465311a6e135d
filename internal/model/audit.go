package model

import (
	"time"
)

const (
	ActionCreateAssetRequest = "CREATE_ASSET_REQUEST"
	ActionApproveRequest     = "APPROVE_REQUEST"
	ActionRejectRequest      = "REJECT_REQUEST"
	ActionDeployAsset        = "DEPLOY_ASSET"

	ActionCreateUser        = "CREATE_USER"
	ActionUpdateUser        = "UPDATE_USER"
	ActionDeleteUser        = "DELETE_USER"
	ActionCreateDistributor = "CREATE_DISTRIBUTOR"
	ActionUpdateDistributor = "UPDATE_DISTRIBUTOR"
	ActionDeleteDistributor = "DELETE_DISTRIBUTOR"
)

// AuditLog tracks Who, What, and When for workflow and admin changes
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     *uint     `gorm:"index" json:"user_id"` // nil for system actions
	User       *User     `gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL" json:"user"`
	Action     string    `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string    `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string    `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string    `gorm:"type:text" json:"details"` // serialized JSON payload of the action
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}
