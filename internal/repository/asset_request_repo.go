package repository

import (
	"context"
	"strings"
	"time"

	"assetflow/internal/model"

	"gorm.io/gorm"
)

// Scope narrows a query, usually to the rows an actor may see.
type Scope = func(db *gorm.DB) *gorm.DB

// RequestQuery holds the list view filters. They only ever narrow the scoped base set.
type RequestQuery struct {
	SearchDistributor string
	Status            string
	RequesterID       *uint
	Sort              string // id, date, asset, status, requester, distributor
	Order             string
	Offset            int
	Limit             int
}

// ExportQuery holds the spreadsheet export filters. End is exclusive.
type ExportQuery struct {
	Start       *time.Time
	End         *time.Time
	RequesterID *uint
	Status      string
}

// RequestStats is computed over the scoped base set, before any list filter.
type RequestStats struct {
	Total         int64 `gorm:"column:total"`
	Pending       int64 `gorm:"column:pending"`
	PendingBM     int64 `gorm:"column:pending_bm"`
	PendingRH     int64 `gorm:"column:pending_rh"`
	Approved      int64 `gorm:"column:approved"`
	Deployed      int64 `gorm:"column:deployed"`
	Rejected      int64 `gorm:"column:rejected"`
	SecurityTotal int64 `gorm:"column:security_total"`
}

type AssetRequestRepository interface {
	Create(ctx context.Context, req *model.AssetRequest) error
	GetByID(ctx context.Context, id uint) (*model.AssetRequest, error)
	List(ctx context.Context, scope Scope, q RequestQuery) ([]model.AssetRequest, int64, error)
	Stats(ctx context.Context, scope Scope) (RequestStats, error)
	Statuses(ctx context.Context, scope Scope) ([]string, error)
	Requesters(ctx context.Context, scope Scope) ([]model.User, error)
	Export(ctx context.Context, scope Scope, q ExportQuery) ([]model.AssetRequest, error)
	FindByContact(ctx context.Context, contact string) ([]model.AssetRequest, error)
	// Transition applies updates only while the row is still in fromStatus.
	Transition(ctx context.Context, id uint, fromStatus string, updates map[string]interface{}) error
}

type assetRequestRepository struct {
	db *gorm.DB
}

func NewAssetRequestRepository(db *gorm.DB) AssetRequestRepository {
	return &assetRequestRepository{db: db}
}

var requestSortColumns = map[string]string{
	"id":          "asset_requests.id",
	"date":        "asset_requests.request_date",
	"asset":       "asset_requests.asset_model",
	"status":      "asset_requests.status",
	"requester":   "requester.name",
	"distributor": "dist.name",
}

func withRelations(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Requester").
		Preload("Distributor").
		Preload("Distributor.BM").
		Preload("Distributor.RH").
		Preload("BMApprover").
		Preload("RHApprover").
		Preload("DeployedBy")
}

func (r *assetRequestRepository) Create(ctx context.Context, req *model.AssetRequest) error {
	return translate(GetDB(ctx, r.db).Omit("Requester", "Distributor", "BMApprover", "RHApprover", "DeployedBy").Create(req).Error)
}

func (r *assetRequestRepository) GetByID(ctx context.Context, id uint) (*model.AssetRequest, error) {
	var req model.AssetRequest
	if err := withRelations(GetDB(ctx, r.db)).First(&req, id).Error; err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

func (r *assetRequestRepository) List(ctx context.Context, scope Scope, q RequestQuery) ([]model.AssetRequest, int64, error) {
	var items []model.AssetRequest
	var total int64

	query := GetDB(ctx, r.db).Model(&model.AssetRequest{}).
		Scopes(scope).
		Joins("LEFT JOIN users requester ON requester.id = asset_requests.requester_id").
		Joins("LEFT JOIN distributors dist ON dist.id = asset_requests.distributor_id")

	if q.SearchDistributor != "" {
		query = query.Where("LOWER(dist.name) LIKE ?", "%"+strings.ToLower(q.SearchDistributor)+"%")
	}
	if q.Status != "" {
		query = query.Where("asset_requests.status = ?", q.Status)
	}
	if q.RequesterID != nil {
		query = query.Where("asset_requests.requester_id = ?", *q.RequesterID)
	}
	query = query.Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := requestSortColumns[q.Sort]
	if !ok {
		column = requestSortColumns["date"]
	}
	// id as a tie breaker keeps pages stable
	order := column + " " + direction(q.Order, "desc") + ", asset_requests.id desc"

	if err := withRelations(query).
		Select("asset_requests.*").
		Order(order).
		Offset(q.Offset).Limit(q.Limit).
		Find(&items).Error; err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

func (r *assetRequestRepository) Stats(ctx context.Context, scope Scope) (RequestStats, error) {
	var stats RequestStats
	err := GetDB(ctx, r.db).Model(&model.AssetRequest{}).
		Scopes(scope).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN asset_requests.status LIKE 'Pending%' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN asset_requests.status = ? THEN 1 ELSE 0 END), 0) AS pending_bm,
			COALESCE(SUM(CASE WHEN asset_requests.status = ? THEN 1 ELSE 0 END), 0) AS pending_rh,
			COALESCE(SUM(CASE WHEN asset_requests.status = ? THEN 1 ELSE 0 END), 0) AS approved,
			COALESCE(SUM(CASE WHEN asset_requests.status = ? THEN 1 ELSE 0 END), 0) AS deployed,
			COALESCE(SUM(CASE WHEN asset_requests.status LIKE '%Rejected%' THEN 1 ELSE 0 END), 0) AS rejected,
			COALESCE(SUM(CASE WHEN asset_requests.bm_approval_type = ? AND asset_requests.status NOT LIKE '%Rejected%'
				THEN asset_requests.bm_security_amount ELSE 0 END), 0) AS security_total`,
			model.StatusPendingBM, model.StatusPendingRH, model.StatusApproved, model.StatusDeployed, model.ApprovalTypeSecurity).
		Scan(&stats).Error
	return stats, err
}

func (r *assetRequestRepository) Statuses(ctx context.Context, scope Scope) ([]string, error) {
	var statuses []string
	err := GetDB(ctx, r.db).Model(&model.AssetRequest{}).
		Scopes(scope).
		Distinct("asset_requests.status").
		Order("asset_requests.status").
		Pluck("asset_requests.status", &statuses).Error
	return statuses, err
}

func (r *assetRequestRepository) Requesters(ctx context.Context, scope Scope) ([]model.User, error) {
	db := GetDB(ctx, r.db)
	requesterIDs := db.Session(&gorm.Session{NewDB: true}).
		Model(&model.AssetRequest{}).
		Scopes(scope).
		Select("asset_requests.requester_id")

	var users []model.User
	err := db.Where("id IN (?)", requesterIDs).Order("name asc").Find(&users).Error
	return users, err
}

func (r *assetRequestRepository) Export(ctx context.Context, scope Scope, q ExportQuery) ([]model.AssetRequest, error) {
	query := withRelations(GetDB(ctx, r.db)).Model(&model.AssetRequest{}).Scopes(scope)

	if q.Start != nil {
		query = query.Where("asset_requests.request_date >= ?", *q.Start)
	}
	if q.End != nil {
		query = query.Where("asset_requests.request_date < ?", *q.End)
	}
	if q.RequesterID != nil {
		query = query.Where("asset_requests.requester_id = ?", *q.RequesterID)
	}
	if q.Status != "" {
		query = query.Where("asset_requests.status = ?", q.Status)
	}

	var items []model.AssetRequest
	err := query.Order("asset_requests.request_date desc, asset_requests.id desc").Find(&items).Error
	return items, err
}

func (r *assetRequestRepository) FindByContact(ctx context.Context, contact string) ([]model.AssetRequest, error) {
	var items []model.AssetRequest
	err := GetDB(ctx, r.db).Where("retailer_contact = ?", contact).Order("id asc").Find(&items).Error
	return items, err
}

func (r *assetRequestRepository) Transition(ctx context.Context, id uint, fromStatus string, updates map[string]interface{}) error {
	res := GetDB(ctx, r.db).Model(&model.AssetRequest{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}
