package database

import (
	"errors"
	"fmt"

	"assetflow/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var ErrAlreadySeeded = errors.New("database already has users")

type seedUser struct {
	code, name, role, so, email, password string
}

var sampleUsers = []seedUser{
	{"SE001", "Rajesh Kumar", "SE", "SO-North", "se001@example.com", "pass123"},
	{"SE002", "Priya Singh", "SE", "SO-West", "se002@example.com", "pass123"},
	{"SE003", "Vikram Rao", "SE", "SO-South", "se003@example.com", "pass123"},
	{"BM001", "Amit Sharma", "BM", "", "bm001@example.com", "pass123"},
	{"BM002", "Deepa Iyengar", "BM", "", "bm002@example.com", "pass123"},
	{"RH001", "Sunita Mehta", "RH", "", "rh001@example.com", "pass123"},
	{"ADMIN01", "Admin User", "Admin", "", "admin@example.com", "adminpass"},
}

type seedDistributor struct {
	code, name, city, state, se, bm, rh string
}

var sampleDistributors = []seedDistributor{
	{"D001", "Capital Distributors", "Delhi", "Delhi", "SE001", "BM001", "RH001"},
	{"D002", "Mumbai Traders", "Mumbai", "Maharashtra", "SE002", "BM001", "RH001"},
	{"D003", "Bangalore Supplies", "Bangalore", "Karnataka", "SE003", "BM002", "RH001"},
	{"D004", "Kolkata Enterprises", "Kolkata", "West Bengal", "SE001", "BM001", "RH001"},
	{"D005", "Chennai Logistics", "Chennai", "Tamil Nadu", "SE003", "BM002", "RH001"},
}

// Seed loads the sample organisation. With reset it first clears existing workflow data.
func Seed(db *gorm.DB, reset bool) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if reset {
			for _, m := range []interface{}{&model.AuditLog{}, &model.AssetRequest{}, &model.Distributor{}, &model.User{}} {
				if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
					return fmt.Errorf("failed to clear %T: %w", m, err)
				}
			}
		} else {
			var count int64
			if err := tx.Model(&model.User{}).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrAlreadySeeded
			}
		}

		ids := make(map[string]uint, len(sampleUsers))
		for _, su := range sampleUsers {
			hash, err := bcrypt.GenerateFromPassword([]byte(su.password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			email := su.email
			u := &model.User{
				EmployeeCode: su.code,
				Name:         su.name,
				Role:         su.role,
				SalesOffice:  su.so,
				Email:        &email,
				PasswordHash: string(hash),
			}
			if err := tx.Create(u).Error; err != nil {
				return fmt.Errorf("failed to create user %s: %w", su.code, err)
			}
			ids[su.code] = u.ID
		}

		for _, sd := range sampleDistributors {
			se, bm, rh := ids[sd.se], ids[sd.bm], ids[sd.rh]
			d := &model.Distributor{
				Code:  sd.code,
				Name:  sd.name,
				City:  sd.city,
				State: sd.state,
				SEID:  &se,
				BMID:  &bm,
				RHID:  &rh,
			}
			if err := tx.Create(d).Error; err != nil {
				return fmt.Errorf("failed to create distributor %s: %w", sd.code, err)
			}
		}
		return nil
	})
}
