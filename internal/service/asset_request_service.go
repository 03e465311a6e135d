package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"assetflow/internal/model"
	"assetflow/internal/notify"
	"assetflow/internal/policy"
	"assetflow/internal/repository"
	"assetflow/internal/storage"
	"assetflow/pkg/pagination"

	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- DTOs ---

type CreateAssetRequestDTO struct {
	DistributorName     string   `json:"distributor_name" binding:"required"`
	AssetModel          string   `json:"asset_model" binding:"required"`
	Category            string   `json:"category" binding:"required"`
	PlacementDate       string   `json:"placement_date"` // YYYY-MM-DD
	Latitude            *float64 `json:"latitude"`
	Longitude           *float64 `json:"longitude"`
	RetailerName        string   `json:"retailer_name" binding:"required,max=150"`
	RetailerContact     string   `json:"retailer_contact" binding:"required"`
	AreaTown            string   `json:"area_town" binding:"required,max=100"`
	Landmark            string   `json:"landmark" binding:"max=200"`
	RetailerAddress     string   `json:"retailer_address"`
	RetailerEmail       string   `json:"retailer_email"`
	SellingIceCream     string   `json:"selling_ice_cream" binding:"required,oneof=yes no"`
	MonthlySales        string   `json:"monthly_sales"`
	IceCreamBrands      string   `json:"ice_cream_brands"`
	CompetitorAssets    string   `json:"competitor_assets"`
	SignageAvailability string   `json:"signage_availability"`
	WillingForSignage   string   `json:"willing_for_signage" binding:"required,oneof=yes no"`
	Photo               string   `json:"photo"` // data:image/...;base64,...
}

type AssetRequestResponse struct {
	ID              uint   `json:"id"`
	Status          string `json:"status"`
	RequestDate     string `json:"request_date"`
	RequesterID     uint   `json:"requester_id"`
	RequesterName   string `json:"requester_name"`
	DistributorID   uint   `json:"distributor_id"`
	DistributorName string `json:"distributor_name"`
	DistributorCode string `json:"distributor_code"`

	AssetModel          string  `json:"asset_model"`
	Category            string  `json:"category"`
	PlacementDate       *string `json:"placement_date"`
	Latitude            float64 `json:"latitude"`
	Longitude           float64 `json:"longitude"`
	RetailerName        string  `json:"retailer_name"`
	RetailerContact     string  `json:"retailer_contact"`
	AreaTown            string  `json:"area_town"`
	Landmark            string  `json:"landmark"`
	RetailerAddress     string  `json:"retailer_address"`
	RetailerEmail       *string `json:"retailer_email"`
	SellingIceCream     string  `json:"selling_ice_cream"`
	MonthlySales        *string `json:"monthly_sales"`
	IceCreamBrands      *string `json:"ice_cream_brands"`
	CompetitorAssets    *string `json:"competitor_assets"`
	SignageAvailability *string `json:"signage_availability"`
	WillingForSignage   string  `json:"willing_for_signage"`
	PhotoFilename       string  `json:"photo_filename"`

	BMApproverID       *uint   `json:"bm_approver_id"`
	BMApproverName     string  `json:"bm_approver_name,omitempty"`
	BMRemarks          *string `json:"bm_remarks"`
	BMApprovalType     *string `json:"bm_approval_type"`
	BMSecurityAmount   *int    `json:"bm_security_amount"`
	BMFOCJustification *string `json:"bm_foc_justification"`
	RHApproverID       *uint   `json:"rh_approver_id"`
	RHApproverName     string  `json:"rh_approver_name,omitempty"`
	RHRemarks          *string `json:"rh_remarks"`

	DeployedMake             *string `json:"deployed_make"`
	DeployedSerialNo         *string `json:"deployed_serial_no"`
	DeploymentPhoto1Filename *string `json:"deployment_photo1_filename"`
	DeploymentPhoto2Filename *string `json:"deployment_photo2_filename"`
	DeploymentDate           *string `json:"deployment_date"`
	DeployedByID             *uint   `json:"deployed_by_id"`
	DeployedByName           string  `json:"deployed_by_name,omitempty"`
}

type RequestListFilter struct {
	Page              int
	Limit             int
	Sort              string
	Order             string
	SearchDistributor string
	Status            string
	RequesterID       *uint
}

type DashboardStats struct {
	Total         int64  `json:"total"`
	Pending       int64  `json:"pending"`
	PendingBM     int64  `json:"pending_bm"`
	PendingRH     int64  `json:"pending_rh"`
	Approved      int64  `json:"approved"`
	Deployed      int64  `json:"deployed"`
	Rejected      int64  `json:"rejected"`
	SecurityTotal string `json:"security_total"`
}

type UserOption struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type RequestListResult struct {
	Items      []AssetRequestResponse `json:"items"`
	Total      int64                  `json:"total"`
	Page       int                    `json:"page"`
	Limit      int                    `json:"limit"`
	Stats      DashboardStats         `json:"stats"`
	Statuses   []string               `json:"statuses"`
	Requesters []UserOption           `json:"requesters,omitempty"`
}

// --- Interface ---

type AssetRequestService interface {
	Create(ctx context.Context, actor policy.Actor, req CreateAssetRequestDTO) (*AssetRequestResponse, error)
	Get(ctx context.Context, actor policy.Actor, id uint) (*AssetRequestResponse, error)
	List(ctx context.Context, actor policy.Actor, f RequestListFilter) (*RequestListResult, error)
	Stats(ctx context.Context, actor policy.Actor) (*DashboardStats, error)
	CheckPhone(ctx context.Context, phone string) ([]string, error)
}

// WorkflowDeps are the collaborators shared by the request, approval, deployment and export services.
type WorkflowDeps struct {
	TxManager    repository.TransactionManager
	Requests     repository.AssetRequestRepository
	Distributors repository.DistributorRepository
	Users        repository.UserRepository
	Audit        repository.AuditRepository
	Photos       *storage.Photos
	Policy       *policy.Policy
	Notifier     notify.Publisher
	Log          *zap.Logger
	// NotifyRequester mails the requester when their request is approved, rejected or deployed.
	NotifyRequester bool
}

// --- Implementation ---

type assetRequestService struct {
	WorkflowDeps
}

func NewAssetRequestService(deps WorkflowDeps) AssetRequestService {
	return &assetRequestService{WorkflowDeps: deps}
}

const DefaultPageSize = pagination.DefaultLimit

var contactPattern = regexp.MustCompile(`^\d{10}$`)

var worldBound = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

func (s *assetRequestService) Create(ctx context.Context, actor policy.Actor, dto CreateAssetRequestDTO) (*AssetRequestResponse, error) {
	if !actor.CanCreate() {
		return nil, fmt.Errorf("%w: your role cannot submit asset requests", ErrForbidden)
	}

	// a bad photo is reported together with any field errors
	req, fieldErr := buildAssetRequest(dto)
	photo, photoErr := s.Photos.Decode(dto.Photo)
	if photoErr != nil {
		photoErr = fmt.Errorf("%w: %w", ErrValidation, photoErr)
	}
	if err := errors.Join(fieldErr, photoErr); err != nil {
		return nil, err
	}

	distributor, err := s.Distributors.GetByName(ctx, strings.TrimSpace(dto.DistributorName))
	if err != nil {
		return nil, lookupErr(err, "distributor "+dto.DistributorName)
	}
	if !policy.InDistributorScope(actor, distributor) {
		return nil, fmt.Errorf("%w: distributor %s is not assigned to you", ErrForbidden, distributor.Name)
	}

	req.RequesterID = actor.ID
	req.DistributorID = distributor.ID
	req.RequestDate = time.Now().UTC()
	req.Status = model.StatusPendingBM

	filename, err := s.Photos.Save(ctx, photo)
	if err != nil {
		return nil, err
	}
	req.PhotoFilename = filename

	err = s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.Requests.Create(txCtx, req); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return conflictf("a request with retailer contact %s already exists", req.RetailerContact)
			}
			return err
		}
		return writeAudit(txCtx, s.Audit, actor.ID, model.ActionCreateAssetRequest, req.ID, req.RetailerName, map[string]interface{}{
			"distributor": distributor.Name,
			"asset_model": req.AssetModel,
			"contact":     req.RetailerContact,
		})
	})
	if err != nil {
		if rmErr := s.Photos.Remove(ctx, filename); rmErr != nil {
			s.Log.Warn("failed to remove orphaned photo", zap.String("file", filename), zap.Error(rmErr))
		}
		return nil, err
	}

	created, err := s.Requests.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if created.Distributor == nil || created.Distributor.BM == nil {
		s.Log.Warn("no BM assigned to distributor, skipping approval notification",
			zap.Uint("request_id", created.ID), zap.Uint("distributor_id", created.DistributorID))
		s.Notifier.Publish(newEvent(notify.EventRequestCreated, created, created.Requester.DisplayName(), nil, ""))
	} else {
		s.Notifier.Publish(newEvent(notify.EventRequestCreated, created, created.Requester.DisplayName(), created.Distributor.BM, ""))
	}

	return toAssetRequestResponse(created), nil
}

func (s *assetRequestService) Get(ctx context.Context, actor policy.Actor, id uint) (*AssetRequestResponse, error) {
	req, err := s.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, fmt.Sprintf("request #%d", id))
	}
	if err := s.Policy.Authorize(actor, policy.ActionView, req); err != nil {
		return nil, fmt.Errorf("%w: you cannot view request #%d", err, id)
	}
	return toAssetRequestResponse(req), nil
}

func (s *assetRequestService) List(ctx context.Context, actor policy.Actor, f RequestListFilter) (*RequestListResult, error) {
	if !actor.Role.Valid() {
		return nil, ErrForbidden
	}
	page := pagination.Bound(f.Page, f.Limit)
	f.Page, f.Limit = page.Page, page.Limit

	scope := policy.Scope(actor)
	q := repository.RequestQuery{
		SearchDistributor: strings.TrimSpace(f.SearchDistributor),
		Status:            f.Status,
		Sort:              f.Sort,
		Order:             f.Order,
		Offset:            page.Offset,
		Limit:             f.Limit,
	}
	if actor.CanFilterByRequester() {
		q.RequesterID = f.RequesterID
	}

	items, total, err := s.Requests.List(ctx, scope, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	stats, err := s.Stats(ctx, actor)
	if err != nil {
		return nil, err
	}

	statuses, err := s.Requests.Statuses(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load statuses: %w", err)
	}

	result := &RequestListResult{
		Items:    make([]AssetRequestResponse, 0, len(items)),
		Total:    total,
		Page:     f.Page,
		Limit:    f.Limit,
		Stats:    *stats,
		Statuses: statuses,
	}
	for i := range items {
		result.Items = append(result.Items, *toAssetRequestResponse(&items[i]))
	}

	if actor.CanFilterByRequester() {
		users, err := s.Requests.Requesters(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("failed to load requesters: %w", err)
		}
		for _, u := range users {
			result.Requesters = append(result.Requesters, UserOption{ID: u.ID, Name: u.Name})
		}
	}

	return result, nil
}

func (s *assetRequestService) Stats(ctx context.Context, actor policy.Actor) (*DashboardStats, error) {
	if !actor.Role.Valid() {
		return nil, ErrForbidden
	}
	st, err := s.Requests.Stats(ctx, policy.Scope(actor))
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	return &DashboardStats{
		Total:         st.Total,
		Pending:       st.Pending,
		PendingBM:     st.PendingBM,
		PendingRH:     st.PendingRH,
		Approved:      st.Approved,
		Deployed:      st.Deployed,
		Rejected:      st.Rejected,
		SecurityTotal: decimal.NewFromInt(st.SecurityTotal).StringFixed(2),
	}, nil
}

func (s *assetRequestService) CheckPhone(ctx context.Context, phone string) ([]string, error) {
	if !contactPattern.MatchString(phone) {
		return nil, validationf("phone number must be exactly 10 digits")
	}
	items, err := s.Requests.FindByContact(ctx, phone)
	if err != nil {
		return nil, err
	}
	matches := make([]string, 0, len(items))
	for _, r := range items {
		matches = append(matches, fmt.Sprintf("Req #%d (%s)", r.ID, r.Status))
	}
	return matches, nil
}

// --- Helpers ---

// buildAssetRequest validates every non-photo field and returns the unsaved row.
// Lengths follow the column sizes on model.AssetRequest.
func buildAssetRequest(dto CreateAssetRequestDTO) (*model.AssetRequest, error) {
	if strings.TrimSpace(dto.DistributorName) == "" {
		return nil, validationf("distributor is required")
	}
	if !model.IsValidAssetModel(dto.AssetModel) {
		return nil, validationf("invalid asset model %q", dto.AssetModel)
	}
	if !model.IsValidCategory(dto.Category) {
		return nil, validationf("invalid category %q", dto.Category)
	}

	location, err := parseLocation(dto.Latitude, dto.Longitude)
	if err != nil {
		return nil, err
	}

	retailerName := strings.TrimSpace(dto.RetailerName)
	if retailerName == "" || utf8.RuneCountInString(retailerName) > 150 {
		return nil, validationf("retailer name is required (max 150 characters)")
	}
	contact := strings.TrimSpace(dto.RetailerContact)
	if !contactPattern.MatchString(contact) {
		return nil, validationf("retailer contact must be exactly 10 digits")
	}
	areaTown := strings.TrimSpace(dto.AreaTown)
	if areaTown == "" {
		return nil, validationf("area/town is required")
	}

	email := strings.TrimSpace(dto.RetailerEmail)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, validationf("invalid retailer email")
		}
	}

	landmark := strings.TrimSpace(dto.Landmark)
	monthlySales := strings.TrimSpace(dto.MonthlySales)
	brands := strings.TrimSpace(dto.IceCreamBrands)
	competitors := strings.TrimSpace(dto.CompetitorAssets)
	for _, f := range []struct {
		label string
		value string
		max   int
	}{
		{"area/town", areaTown, 100},
		{"landmark", landmark, 200},
		{"retailer email", email, 120},
		{"monthly sales", monthlySales, 50},
		{"ice cream brands", brands, 200},
		{"competitor assets", competitors, 200},
	} {
		if utf8.RuneCountInString(f.value) > f.max {
			return nil, validationf("%s must be at most %d characters", f.label, f.max)
		}
	}

	if !isYesNo(dto.SellingIceCream) {
		return nil, validationf("selling ice cream must be yes or no")
	}
	if !isYesNo(dto.WillingForSignage) {
		return nil, validationf("willing for signage must be yes or no")
	}

	req := &model.AssetRequest{
		AssetModel:        dto.AssetModel,
		Category:          dto.Category,
		Latitude:          location.Lat(),
		Longitude:         location.Lon(),
		RetailerName:      retailerName,
		RetailerContact:   contact,
		AreaTown:          areaTown,
		Landmark:          landmark,
		RetailerAddress:   strings.TrimSpace(dto.RetailerAddress),
		RetailerEmail:     strPtr(email),
		SellingIceCream:   dto.SellingIceCream,
		WillingForSignage: dto.WillingForSignage,
	}

	if dto.PlacementDate != "" {
		d, err := time.Parse(dateLayout, dto.PlacementDate)
		if err != nil {
			return nil, validationf("placement date must be YYYY-MM-DD")
		}
		req.PlacementDate = &d
	}

	// the follow-up questions only apply to retailers already selling ice cream
	if dto.SellingIceCream == "yes" {
		if dto.SignageAvailability != "" && !isYesNo(dto.SignageAvailability) {
			return nil, validationf("signage availability must be yes or no")
		}
		req.MonthlySales = strPtr(monthlySales)
		req.IceCreamBrands = strPtr(brands)
		req.CompetitorAssets = strPtr(competitors)
		req.SignageAvailability = strPtr(dto.SignageAvailability)
	}

	return req, nil
}

func parseLocation(lat, lng *float64) (orb.Point, error) {
	if lat == nil || lng == nil {
		return orb.Point{}, validationf("location is required")
	}
	if math.IsNaN(*lat) || math.IsNaN(*lng) {
		return orb.Point{}, validationf("location is malformed")
	}
	p := orb.Point{*lng, *lat}
	if !worldBound.Contains(p) {
		return orb.Point{}, validationf("location is out of range")
	}
	return p, nil
}

func isYesNo(v string) bool {
	return v == "yes" || v == "no"
}

const dateLayout = "2006-01-02"

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toAssetRequestResponse(r *model.AssetRequest) *AssetRequestResponse {
	res := &AssetRequestResponse{
		ID:                       r.ID,
		Status:                   r.Status,
		RequestDate:              r.RequestDate.UTC().Format(time.RFC3339),
		RequesterID:              r.RequesterID,
		RequesterName:            r.Requester.DisplayName(),
		DistributorID:            r.DistributorID,
		AssetModel:               r.AssetModel,
		Category:                 r.Category,
		PlacementDate:            formatDate(r.PlacementDate),
		Latitude:                 r.Latitude,
		Longitude:                r.Longitude,
		RetailerName:             r.RetailerName,
		RetailerContact:          r.RetailerContact,
		AreaTown:                 r.AreaTown,
		Landmark:                 r.Landmark,
		RetailerAddress:          r.RetailerAddress,
		RetailerEmail:            r.RetailerEmail,
		SellingIceCream:          r.SellingIceCream,
		MonthlySales:             r.MonthlySales,
		IceCreamBrands:           r.IceCreamBrands,
		CompetitorAssets:         r.CompetitorAssets,
		SignageAvailability:      r.SignageAvailability,
		WillingForSignage:        r.WillingForSignage,
		PhotoFilename:            r.PhotoFilename,
		BMApproverID:             r.BMApproverID,
		BMApproverName:           r.BMApprover.DisplayName(),
		BMRemarks:                r.BMRemarks,
		BMApprovalType:           r.BMApprovalType,
		BMSecurityAmount:         r.BMSecurityAmount,
		BMFOCJustification:       r.BMFOCJustification,
		RHApproverID:             r.RHApproverID,
		RHApproverName:           r.RHApprover.DisplayName(),
		RHRemarks:                r.RHRemarks,
		DeployedMake:             r.DeployedMake,
		DeployedSerialNo:         r.DeployedSerialNo,
		DeploymentPhoto1Filename: r.DeploymentPhoto1Filename,
		DeploymentPhoto2Filename: r.DeploymentPhoto2Filename,
		DeploymentDate:           formatTime(r.DeploymentDate),
		DeployedByID:             r.DeployedByID,
		DeployedByName:           r.DeployedBy.DisplayName(),
	}
	if r.Distributor != nil {
		res.DistributorName = r.Distributor.Name
		res.DistributorCode = r.Distributor.Code
	}
	return res
}

// newEvent snapshots req for the notification worker. recipient may be nil.
func newEvent(kind notify.EventKind, req *model.AssetRequest, actorName string, recipient *model.User, remarks string) notify.Event {
	ev := notify.Event{
		Kind:          kind,
		RequestID:     req.ID,
		Status:        req.Status,
		RetailerName:  req.RetailerName,
		AreaTown:      req.AreaTown,
		AssetModel:    req.AssetModel,
		RequesterName: req.Requester.DisplayName(),
		ActorName:     actorName,
		Remarks:       remarks,
		Audience:      []uint{req.RequesterID},
	}
	if req.Distributor != nil {
		ev.DistributorName = req.Distributor.Name
		if req.Distributor.BMID != nil {
			ev.Audience = append(ev.Audience, *req.Distributor.BMID)
		}
		if req.Distributor.RHID != nil {
			ev.Audience = append(ev.Audience, *req.Distributor.RHID)
		}
	}
	if recipient != nil {
		ev.Recipient = &notify.Recipient{
			UserID: recipient.ID,
			Name:   recipient.Name,
			Email:  recipient.EmailAddress(),
		}
	}
	return ev
}
