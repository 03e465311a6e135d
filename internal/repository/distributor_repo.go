package repository

import (
	"context"
	"strings"

	"assetflow/internal/model"

	"gorm.io/gorm"
)

type DistributorFilter struct {
	Search string
	Sort   string // name, code, se, bm, rh
	Order  string
	Offset int
	Limit  int
}

// DistributorReferences counts the rows that block deleting a distributor.
type DistributorReferences struct {
	Requests int64
	Users    int64
}

type DistributorRepository interface {
	Create(ctx context.Context, d *model.Distributor) error
	GetByID(ctx context.Context, id uint) (*model.Distributor, error)
	GetByName(ctx context.Context, name string) (*model.Distributor, error)
	GetByCode(ctx context.Context, code string) (*model.Distributor, error)
	List(ctx context.Context, f DistributorFilter) ([]model.Distributor, int64, error)
	ListScoped(ctx context.Context, scope Scope) ([]model.Distributor, error)
	Update(ctx context.Context, d *model.Distributor) error
	Delete(ctx context.Context, id uint) error
	CountReferences(ctx context.Context, id uint) (DistributorReferences, error)
}

type distributorRepository struct {
	db *gorm.DB
}

func NewDistributorRepository(db *gorm.DB) DistributorRepository {
	return &distributorRepository{db: db}
}

var distributorSortColumns = map[string]string{
	"name": "distributors.name",
	"code": "distributors.code",
	"se":   "se.name",
	"bm":   "bm.name",
	"rh":   "rh.name",
}

func (r *distributorRepository) withAssignees(db *gorm.DB) *gorm.DB {
	return db.Preload("SE").Preload("BM").Preload("RH")
}

func (r *distributorRepository) Create(ctx context.Context, d *model.Distributor) error {
	return translate(GetDB(ctx, r.db).Create(d).Error)
}

func (r *distributorRepository) GetByID(ctx context.Context, id uint) (*model.Distributor, error) {
	var d model.Distributor
	if err := r.withAssignees(GetDB(ctx, r.db)).First(&d, id).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (r *distributorRepository) GetByName(ctx context.Context, name string) (*model.Distributor, error) {
	var d model.Distributor
	if err := r.withAssignees(GetDB(ctx, r.db)).First(&d, "name = ?", name).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (r *distributorRepository) GetByCode(ctx context.Context, code string) (*model.Distributor, error) {
	var d model.Distributor
	if err := GetDB(ctx, r.db).First(&d, "code = ?", code).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (r *distributorRepository) List(ctx context.Context, f DistributorFilter) ([]model.Distributor, int64, error) {
	var items []model.Distributor
	var total int64

	query := GetDB(ctx, r.db).Model(&model.Distributor{}).
		Joins("LEFT JOIN users se ON se.id = distributors.se_id").
		Joins("LEFT JOIN users bm ON bm.id = distributors.bm_id").
		Joins("LEFT JOIN users rh ON rh.id = distributors.rh_id")
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		query = query.Where(
			"LOWER(distributors.name) LIKE ? OR LOWER(distributors.code) LIKE ? OR LOWER(COALESCE(se.name, '')) LIKE ?",
			like, like, like,
		)
	}
	query = query.Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := distributorSortColumns[f.Sort]
	if !ok {
		column = distributorSortColumns["name"]
	}
	if err := r.withAssignees(query).
		Select("distributors.*").
		Order(column + " " + direction(f.Order, "asc")).
		Offset(f.Offset).Limit(f.Limit).
		Find(&items).Error; err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

func (r *distributorRepository) ListScoped(ctx context.Context, scope Scope) ([]model.Distributor, error) {
	var items []model.Distributor
	err := r.withAssignees(GetDB(ctx, r.db)).
		Scopes(scope).
		Order("distributors.name asc").
		Find(&items).Error
	return items, err
}

func (r *distributorRepository) Update(ctx context.Context, d *model.Distributor) error {
	return translate(GetDB(ctx, r.db).Omit("SE", "BM", "RH").Save(d).Error)
}

func (r *distributorRepository) Delete(ctx context.Context, id uint) error {
	return translate(GetDB(ctx, r.db).Delete(&model.Distributor{}, id).Error)
}

func (r *distributorRepository) CountReferences(ctx context.Context, id uint) (DistributorReferences, error) {
	var refs DistributorReferences
	db := GetDB(ctx, r.db)

	if err := db.Model(&model.AssetRequest{}).Where("distributor_id = ?", id).Count(&refs.Requests).Error; err != nil {
		return refs, err
	}
	if err := db.Model(&model.User{}).Where("distributor_id = ?", id).Count(&refs.Users).Error; err != nil {
		return refs, err
	}
	return refs, nil
}
