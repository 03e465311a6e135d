package repository

import (
	"context"
	"strings"

	"assetflow/internal/model"

	"gorm.io/gorm"
)

// UserFilter drives the admin user listing.
type UserFilter struct {
	Search string
	Sort   string // name, code, email, role, so
	Order  string // asc, desc
	Offset int
	Limit  int
}

// UserReferences counts the rows that block deleting a user.
type UserReferences struct {
	Requests     int64
	Distributors int64
}

// UserRepository defines the interface for data access of User entities
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uint) (*model.User, error)
	GetByEmployeeCode(ctx context.Context, code string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context, f UserFilter) ([]model.User, int64, error)
	ListByRole(ctx context.Context, role string) ([]model.User, error)
	Update(ctx context.Context, user *model.User) error
	Delete(ctx context.Context, id uint) error
	CountReferences(ctx context.Context, id uint) (UserReferences, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new instance of UserRepository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

var userSortColumns = map[string]string{
	"name":  "users.name",
	"code":  "users.employee_code",
	"email": "users.email",
	"role":  "users.role",
	"so":    "users.so",
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return translate(GetDB(ctx, r.db).Create(user).Error)
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).First(&user, id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *userRepository) GetByEmployeeCode(ctx context.Context, code string) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).First(&user, "employee_code = ?", code).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).First(&user, "LOWER(email) = ?", strings.ToLower(email)).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *userRepository) List(ctx context.Context, f UserFilter) ([]model.User, int64, error) {
	var users []model.User
	var total int64

	query := GetDB(ctx, r.db).Model(&model.User{})
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		query = query.Where(
			"LOWER(users.name) LIKE ? OR LOWER(users.employee_code) LIKE ? OR LOWER(COALESCE(users.email, '')) LIKE ? OR LOWER(users.role) LIKE ?",
			like, like, like, like,
		)
	}
	query = query.Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := userSortColumns[f.Sort]
	if !ok {
		column = userSortColumns["name"]
	}
	if err := query.Order(column + " " + direction(f.Order, "asc")).
		Offset(f.Offset).Limit(f.Limit).
		Find(&users).Error; err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

func (r *userRepository) ListByRole(ctx context.Context, role string) ([]model.User, error) {
	var users []model.User
	err := GetDB(ctx, r.db).Where("role = ?", role).Order("name asc").Find(&users).Error
	return users, err
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	return translate(GetDB(ctx, r.db).Save(user).Error)
}

func (r *userRepository) Delete(ctx context.Context, id uint) error {
	return translate(GetDB(ctx, r.db).Delete(&model.User{}, id).Error)
}

func (r *userRepository) CountReferences(ctx context.Context, id uint) (UserReferences, error) {
	var refs UserReferences
	db := GetDB(ctx, r.db)

	if err := db.Model(&model.AssetRequest{}).
		Where("requester_id = ? OR bm_approver_id = ? OR rh_approver_id = ? OR deployed_by_id = ?", id, id, id, id).
		Count(&refs.Requests).Error; err != nil {
		return refs, err
	}
	if err := db.Model(&model.Distributor{}).
		Where("se_id = ? OR bm_id = ? OR rh_id = ?", id, id, id).
		Count(&refs.Distributors).Error; err != nil {
		return refs, err
	}
	return refs, nil
}

// direction normalises a user supplied sort order.
func direction(order, fallback string) string {
	switch strings.ToLower(order) {
	case "asc":
		return "asc"
	case "desc":
		return "desc"
	}
	return fallback
}
