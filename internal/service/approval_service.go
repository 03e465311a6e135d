package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"assetflow/internal/model"
	"assetflow/internal/notify"
	"assetflow/internal/policy"
	"assetflow/internal/repository"

	"go.uber.org/zap"
)

// --- DTOs ---

// BM approval types as submitted by clients
const (
	ApproveWithSecurity = "security"
	ApproveFreeOfCost   = "foc"
)

type ApproveRequestDTO struct {
	// ApprovalType is required for BMs and ignored for RH and Admin.
	ApprovalType     string `json:"approval_type"`
	SecurityAmount   string `json:"security_amount"`
	FOCJustification string `json:"foc_justification"`
	Remarks          string `json:"remarks"`
}

type RejectRequestDTO struct {
	Remarks string `json:"remarks"`
}

// --- Interface ---

type ApprovalService interface {
	Approve(ctx context.Context, actor policy.Actor, id uint, req ApproveRequestDTO) (*AssetRequestResponse, error)
	Reject(ctx context.Context, actor policy.Actor, id uint, req RejectRequestDTO) (*AssetRequestResponse, error)
}

// --- Implementation ---

type approvalService struct {
	WorkflowDeps
}

func NewApprovalService(deps WorkflowDeps) ApprovalService {
	return &approvalService{WorkflowDeps: deps}
}

// transition is a validated state change ready to be applied.
type transition struct {
	from    string
	updates map[string]interface{}
	action  string
	remarks string
}

func (s *approvalService) Approve(ctx context.Context, actor policy.Actor, id uint, dto ApproveRequestDTO) (*AssetRequestResponse, error) {
	return s.apply(ctx, actor, id, policy.ActionApprove, func(req *model.AssetRequest) (*transition, error) {
		return approvalTransition(actor, req, dto)
	})
}

func (s *approvalService) Reject(ctx context.Context, actor policy.Actor, id uint, dto RejectRequestDTO) (*AssetRequestResponse, error) {
	remarks := strings.TrimSpace(dto.Remarks)
	if remarks == "" {
		return nil, validationf("remarks are required for rejection")
	}
	return s.apply(ctx, actor, id, policy.ActionReject, func(req *model.AssetRequest) (*transition, error) {
		return rejectionTransition(actor, req, remarks), nil
	})
}

// apply runs read, authorize, validate and conditional write in one transaction.
// The conditional write also fails if another approver moved the row after our read.
func (s *approvalService) apply(ctx context.Context, actor policy.Actor, id uint, action policy.Action,
	build func(*model.AssetRequest) (*transition, error)) (*AssetRequestResponse, error) {

	var t *transition
	err := s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		req, err := s.Requests.GetByID(txCtx, id)
		if err != nil {
			return lookupErr(err, fmt.Sprintf("request #%d", id))
		}
		if err := s.Policy.Authorize(actor, action, req); err != nil {
			return fmt.Errorf("%w: cannot %s request #%d (%s)", err, action, id, req.Status)
		}

		t, err = build(req)
		if err != nil {
			return err
		}

		if err := s.Requests.Transition(txCtx, id, t.from, t.updates); err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				return fmt.Errorf("%w: request #%d was updated by someone else", ErrStageMismatch, id)
			}
			return err
		}

		return writeAudit(txCtx, s.Audit, actor.ID, t.action, id, req.RetailerName, map[string]interface{}{
			"from":    t.from,
			"to":      t.updates["status"],
			"role":    actor.Role,
			"remarks": t.remarks,
		})
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, actor, updated, t.remarks)
	return toAssetRequestResponse(updated), nil
}

func (s *approvalService) notify(ctx context.Context, actor policy.Actor, req *model.AssetRequest, remarks string) {
	actorName := actorDisplayName(ctx, s.Users, actor)

	switch {
	case req.Status == model.StatusPendingRH:
		var rh *model.User
		if req.Distributor != nil {
			rh = req.Distributor.RH
		}
		if rh == nil {
			s.Log.Warn("no RH assigned to distributor, skipping approval notification",
				zap.Uint("request_id", req.ID), zap.Uint("distributor_id", req.DistributorID))
		}
		s.Notifier.Publish(newEvent(notify.EventBMApproved, req, actorName, rh, remarks))

	case req.Status == model.StatusApproved:
		s.Notifier.Publish(newEvent(notify.EventApproved, req, actorName, s.requesterRecipient(req), remarks))

	case req.IsRejected():
		s.Notifier.Publish(newEvent(notify.EventRejected, req, actorName, s.requesterRecipient(req), remarks))
	}
}

func (s *approvalService) requesterRecipient(req *model.AssetRequest) *model.User {
	if !s.NotifyRequester {
		return nil
	}
	return req.Requester
}

// --- Helpers ---

func approvalTransition(actor policy.Actor, req *model.AssetRequest, dto ApproveRequestDTO) (*transition, error) {
	remarks := strings.TrimSpace(dto.Remarks)
	t := &transition{from: req.Status, action: model.ActionApproveRequest, remarks: remarks}

	switch actor.Role {
	case policy.RoleBM:
		updates := map[string]interface{}{
			"status":         model.StatusPendingRH,
			"bm_approver_id": actor.ID,
			"bm_remarks":     nil,
		}
		switch dto.ApprovalType {
		case ApproveWithSecurity:
			amount, err := strconv.Atoi(strings.TrimSpace(dto.SecurityAmount))
			if err != nil || amount <= 0 {
				return nil, validationf("security amount must be a positive whole number")
			}
			updates["bm_approval_type"] = model.ApprovalTypeSecurity
			updates["bm_security_amount"] = amount
			updates["bm_foc_justification"] = nil
		case ApproveFreeOfCost:
			justification := strings.TrimSpace(dto.FOCJustification)
			if justification == "" {
				return nil, validationf("justification is required for free of cost approval")
			}
			updates["bm_approval_type"] = model.ApprovalTypeFreeOfCost
			updates["bm_foc_justification"] = justification
			updates["bm_security_amount"] = nil
		default:
			return nil, validationf("approval type must be %q or %q", ApproveWithSecurity, ApproveFreeOfCost)
		}
		t.updates = updates

	case policy.RoleRH:
		t.updates = map[string]interface{}{
			"status":         model.StatusApproved,
			"rh_approver_id": actor.ID,
			"rh_remarks":     strPtr(remarks),
		}

	case policy.RoleAdmin:
		var note *string
		if remarks != "" {
			note = strPtr("Approved by Admin: " + remarks)
		}
		t.updates = map[string]interface{}{
			"status":           model.StatusApproved,
			"bm_approval_type": model.ApprovalTypeAdminOverride,
			"rh_approver_id":   actor.ID,
			"rh_remarks":       note,
		}
		if req.Status == model.StatusPendingBM {
			t.updates["bm_approver_id"] = actor.ID
			t.updates["bm_remarks"] = note
		}

	default:
		return nil, ErrForbidden
	}

	return t, nil
}

func rejectionTransition(actor policy.Actor, req *model.AssetRequest, remarks string) *transition {
	t := &transition{from: req.Status, action: model.ActionRejectRequest, remarks: remarks}

	switch actor.Role {
	case policy.RoleBM:
		t.updates = map[string]interface{}{
			"status":         model.StatusRejectedBM,
			"bm_approver_id": actor.ID,
			"bm_remarks":     remarks,
		}
	case policy.RoleRH:
		t.updates = map[string]interface{}{
			"status":         model.StatusRejectedRH,
			"rh_approver_id": actor.ID,
			"rh_remarks":     remarks,
		}
	case policy.RoleAdmin:
		note := "Rejected by Admin: " + remarks
		t.updates = map[string]interface{}{
			"status":         model.StatusRejectedAdmin,
			"rh_approver_id": actor.ID,
			"rh_remarks":     note,
		}
		if req.Status == model.StatusPendingBM {
			t.updates["bm_approver_id"] = actor.ID
			t.updates["bm_remarks"] = note
		}
	}

	return t
}

func actorDisplayName(ctx context.Context, users repository.UserRepository, actor policy.Actor) string {
	u, err := users.GetByID(ctx, actor.ID)
	if err != nil {
		return string(actor.Role)
	}
	return u.Name
}
