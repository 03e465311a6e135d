package model

import "time"

// Distributor is reference data. Its SE/BM/RH assignments decide who can see and act on its requests.
type Distributor struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"`
	Name      string    `gorm:"type:varchar(150);uniqueIndex;not null" json:"name"`
	City      string    `gorm:"type:varchar(100)" json:"city"`
	State     string    `gorm:"type:varchar(100)" json:"state"`
	SEID      *uint     `gorm:"column:se_id;index" json:"se_id"`
	SE        *User     `gorm:"foreignKey:SEID" json:"se,omitempty"`
	BMID      *uint     `gorm:"column:bm_id;index" json:"bm_id"`
	BM        *User     `gorm:"foreignKey:BMID" json:"bm,omitempty"`
	RHID      *uint     `gorm:"column:rh_id;index" json:"rh_id"`
	RH        *User     `gorm:"foreignKey:RHID" json:"rh,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
