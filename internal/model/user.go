package model

import (
	"time"
)

// User is any person who can sign in: field staff, approvers, distributor logins and admins.
type User struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	EmployeeCode string  `gorm:"type:varchar(20);uniqueIndex;not null" json:"employee_code"`
	Name         string  `gorm:"type:varchar(100);not null" json:"name"`
	Email        *string `gorm:"type:varchar(120);uniqueIndex" json:"email"`
	Role         string  `gorm:"type:varchar(10);not null;index" json:"role"` // SE, BM, RH, DB, Admin
	PasswordHash string  `gorm:"type:varchar(255);not null" json:"-"`
	SalesOffice  string  `gorm:"column:so;type:varchar(100)" json:"so"`
	// Only set for DB users. Kept as a plain column so users and distributors can be migrated in either order.
	DistributorID *uint     `gorm:"index" json:"distributor_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EmailAddress returns the user's email or an empty string.
func (u *User) EmailAddress() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}

// DisplayName is safe to call on a nil user.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	return u.Name
}
