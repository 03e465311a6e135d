package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"assetflow/internal/model"
	"assetflow/internal/policy"
	"assetflow/internal/repository"
	"assetflow/pkg/pagination"
)

type DistributorRequest struct {
	Code  string `json:"code" binding:"required,max=50"`
	Name  string `json:"name" binding:"required,max=150"`
	City  string `json:"city" binding:"max=100"`
	State string `json:"state" binding:"max=100"`
	SEID  *uint  `json:"se_id"`
	BMID  *uint  `json:"bm_id"`
	RHID  *uint  `json:"rh_id"`
}

type DistributorListFilter struct {
	Page   int
	Limit  int
	Search string
	Sort   string
	Order  string
}

type DistributorResponse struct {
	ID        uint    `json:"id"`
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	City      string  `json:"city"`
	State     string  `json:"state"`
	SEID      *uint   `json:"se_id"`
	SEName    *string `json:"se_name"`
	BMID      *uint   `json:"bm_id"`
	BMName    *string `json:"bm_name"`
	RHID      *uint   `json:"rh_id"`
	RHName    *string `json:"rh_name"`
	CreatedAt string  `json:"created_at"`
}

// DistributorOption feeds the request form's distributor picker.
type DistributorOption struct {
	Name    string `json:"name"`
	Code    string `json:"code"`
	Town    string `json:"town"`
	ASMBM   string `json:"asmBm"`
	BMEmail string `json:"bmEmail"`
	RHEmail string `json:"rhEmail"`
}

type DistributorService interface {
	Options(ctx context.Context, actor policy.Actor) ([]DistributorOption, error)
	List(ctx context.Context, actor policy.Actor, f DistributorListFilter) ([]DistributorResponse, int64, error)
	Get(ctx context.Context, actor policy.Actor, id uint) (*DistributorResponse, error)
	Create(ctx context.Context, actor policy.Actor, req DistributorRequest) (*DistributorResponse, error)
	Update(ctx context.Context, actor policy.Actor, id uint, req DistributorRequest) (*DistributorResponse, error)
	Delete(ctx context.Context, actor policy.Actor, id uint) error
}

type distributorService struct {
	txManager    repository.TransactionManager
	distributors repository.DistributorRepository
	users        repository.UserRepository
	audit        repository.AuditRepository
}

func NewDistributorService(
	txManager repository.TransactionManager,
	distributors repository.DistributorRepository,
	users repository.UserRepository,
	audit repository.AuditRepository,
) DistributorService {
	return &distributorService{
		txManager:    txManager,
		distributors: distributors,
		users:        users,
		audit:        audit,
	}
}

func namePtr(u *model.User) *string {
	if u == nil {
		return nil
	}
	return &u.Name
}

func mapDistributorResponse(d *model.Distributor) *DistributorResponse {
	return &DistributorResponse{
		ID:        d.ID,
		Code:      d.Code,
		Name:      d.Name,
		City:      d.City,
		State:     d.State,
		SEID:      d.SEID,
		SEName:    namePtr(d.SE),
		BMID:      d.BMID,
		BMName:    namePtr(d.BM),
		RHID:      d.RHID,
		RHName:    namePtr(d.RH),
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
	}
}

func (s *distributorService) Options(ctx context.Context, actor policy.Actor) ([]DistributorOption, error) {
	if !actor.Role.Valid() {
		return nil, ErrForbidden
	}
	items, err := s.distributors.ListScoped(ctx, policy.DistributorScope(actor))
	if err != nil {
		return nil, fmt.Errorf("failed to load distributors: %w", err)
	}

	options := make([]DistributorOption, 0, len(items))
	for _, d := range items {
		options = append(options, DistributorOption{
			Name:    d.Name,
			Code:    d.Code,
			Town:    d.City,
			ASMBM:   d.BM.DisplayName(),
			BMEmail: d.BM.EmailAddress(),
			RHEmail: d.RH.EmailAddress(),
		})
	}
	return options, nil
}

func (s *distributorService) List(ctx context.Context, actor policy.Actor, f DistributorListFilter) ([]DistributorResponse, int64, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	page := pagination.Bound(f.Page, f.Limit)
	f.Page, f.Limit = page.Page, page.Limit

	items, total, err := s.distributors.List(ctx, repository.DistributorFilter{
		Search: strings.TrimSpace(f.Search),
		Sort:   f.Sort,
		Order:  f.Order,
		Offset: page.Offset,
		Limit:  f.Limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list distributors: %w", err)
	}

	res := make([]DistributorResponse, 0, len(items))
	for i := range items {
		res = append(res, *mapDistributorResponse(&items[i]))
	}
	return res, total, nil
}

func (s *distributorService) Get(ctx context.Context, actor policy.Actor, id uint) (*DistributorResponse, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	d, err := s.distributors.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, fmt.Sprintf("distributor %d", id))
	}
	return mapDistributorResponse(d), nil
}

// checkAssignee verifies that an SE/BM/RH slot points at a user holding that role.
func (s *distributorService) checkAssignee(ctx context.Context, id *uint, want policy.Role) error {
	if id == nil {
		return nil
	}
	u, err := s.users.GetByID(ctx, *id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return validationf("%s user %d does not exist", want, *id)
		}
		return err
	}
	if u.Role != want.String() {
		return validationf("user %s is %s, not %s", u.Name, u.Role, want)
	}
	return nil
}

func (s *distributorService) apply(ctx context.Context, selfID uint, d *model.Distributor, req DistributorRequest) error {
	d.Code = strings.TrimSpace(req.Code)
	d.Name = strings.TrimSpace(req.Name)
	d.City = strings.TrimSpace(req.City)
	d.State = strings.TrimSpace(req.State)
	if d.Code == "" || d.Name == "" {
		return validationf("code and name are required")
	}

	if existing, err := s.distributors.GetByCode(ctx, d.Code); err == nil && existing.ID != selfID {
		return conflictf("distributor code %s already exists", d.Code)
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if existing, err := s.distributors.GetByName(ctx, d.Name); err == nil && existing.ID != selfID {
		return conflictf("distributor name %s already exists", d.Name)
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	if err := s.checkAssignee(ctx, req.SEID, policy.RoleSE); err != nil {
		return err
	}
	if err := s.checkAssignee(ctx, req.BMID, policy.RoleBM); err != nil {
		return err
	}
	if err := s.checkAssignee(ctx, req.RHID, policy.RoleRH); err != nil {
		return err
	}
	d.SEID, d.BMID, d.RHID = req.SEID, req.BMID, req.RHID
	d.SE, d.BM, d.RH = nil, nil, nil
	return nil
}

func assignmentDetails(d *model.Distributor) map[string]interface{} {
	return map[string]interface{}{
		"code":  d.Code,
		"se_id": d.SEID,
		"bm_id": d.BMID,
		"rh_id": d.RHID,
	}
}

func (s *distributorService) Create(ctx context.Context, actor policy.Actor, req DistributorRequest) (*DistributorResponse, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	d := &model.Distributor{}
	if err := s.apply(ctx, 0, d, req); err != nil {
		return nil, err
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.distributors.Create(txCtx, d); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return conflictf("distributor code or name already exists")
			}
			return err
		}
		return writeAudit(txCtx, s.audit, actor.ID, model.ActionCreateDistributor, d.ID, d.Name, assignmentDetails(d))
	})
	if err != nil {
		return nil, err
	}

	return s.reload(ctx, d.ID)
}

func (s *distributorService) Update(ctx context.Context, actor policy.Actor, id uint, req DistributorRequest) (*DistributorResponse, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	d, err := s.distributors.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, fmt.Sprintf("distributor %d", id))
	}
	if err := s.apply(ctx, d.ID, d, req); err != nil {
		return nil, err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.distributors.Update(txCtx, d); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return conflictf("distributor code or name already exists")
			}
			return err
		}
		return writeAudit(txCtx, s.audit, actor.ID, model.ActionUpdateDistributor, d.ID, d.Name, assignmentDetails(d))
	})
	if err != nil {
		return nil, err
	}

	return s.reload(ctx, d.ID)
}

func (s *distributorService) reload(ctx context.Context, id uint) (*DistributorResponse, error) {
	d, err := s.distributors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return mapDistributorResponse(d), nil
}

func (s *distributorService) Delete(ctx context.Context, actor policy.Actor, id uint) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		d, err := s.distributors.GetByID(txCtx, id)
		if err != nil {
			return lookupErr(err, fmt.Sprintf("distributor %d", id))
		}

		refs, err := s.distributors.CountReferences(txCtx, id)
		if err != nil {
			return err
		}
		if refs.Requests > 0 {
			return conflictf("distributor %s has %d asset request(s)", d.Name, refs.Requests)
		}
		if refs.Users > 0 {
			return conflictf("distributor %s is linked to %d DB user(s)", d.Name, refs.Users)
		}

		if err := s.distributors.Delete(txCtx, id); err != nil {
			return err
		}
		return writeAudit(txCtx, s.audit, actor.ID, model.ActionDeleteDistributor, id, d.Name, map[string]interface{}{
			"code": d.Code,
		})
	})
}
