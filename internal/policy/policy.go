package policy

import (
	"errors"

	"assetflow/internal/model"
)

var (
	// ErrForbidden means the actor's role or assignment does not allow the action.
	ErrForbidden = errors.New("permission denied")
	// ErrStageMismatch means the actor could act on this request, but not in its current state.
	ErrStageMismatch = errors.New("cannot act on this request at its current stage")
)

// Action is something an actor can attempt on an existing request.
type Action int

const (
	ActionView Action = iota
	ActionApprove
	ActionReject
	ActionDeploy
)

func (a Action) String() string {
	switch a {
	case ActionView:
		return "view"
	case ActionApprove:
		return "approve"
	case ActionReject:
		return "reject"
	case ActionDeploy:
		return "deploy"
	}
	return "unknown"
}

// Options configures the decisions left open by the workflow.
type Options struct {
	// AllowSelfApproval lets a BM or RH act on a request they filed themselves,
	// even for distributors they are not assigned to.
	AllowSelfApproval bool
}

// Policy is the single authorization decision point for request actions.
type Policy struct {
	opts Options
}

func New(opts Options) *Policy {
	return &Policy{opts: opts}
}

// Can reports whether actor may perform action on req right now.
func (p *Policy) Can(actor Actor, action Action, req *model.AssetRequest) bool {
	return p.Authorize(actor, action, req) == nil
}

// Authorize returns nil, ErrForbidden or ErrStageMismatch.
// Role and assignment are checked before state, so a caller with no rights never learns the stage.
func (p *Policy) Authorize(actor Actor, action Action, req *model.AssetRequest) error {
	if req == nil || !actor.Role.Valid() {
		return ErrForbidden
	}

	switch action {
	case ActionView:
		if !Visible(actor, req) {
			return ErrForbidden
		}
		return nil

	case ActionApprove, ActionReject:
		switch actor.Role {
		case RoleAdmin:
			if !req.IsPending() {
				return ErrStageMismatch
			}
			return nil
		case RoleBM:
			if !p.isApprover(actor, req, func(d *model.Distributor) *uint { return d.BMID }) {
				return ErrForbidden
			}
			if req.Status != model.StatusPendingBM {
				return ErrStageMismatch
			}
			return nil
		case RoleRH:
			if !p.isApprover(actor, req, func(d *model.Distributor) *uint { return d.RHID }) {
				return ErrForbidden
			}
			if req.Status != model.StatusPendingRH {
				return ErrStageMismatch
			}
			return nil
		default:
			return ErrForbidden
		}

	case ActionDeploy:
		switch actor.Role {
		case RoleAdmin:
		case RoleSE, RoleDB:
			if req.RequesterID != actor.ID {
				return ErrForbidden
			}
		default:
			return ErrForbidden
		}
		if req.Status != model.StatusApproved {
			return ErrStageMismatch
		}
		return nil
	}

	return ErrForbidden
}

func (p *Policy) isApprover(actor Actor, req *model.AssetRequest, assigned func(*model.Distributor) *uint) bool {
	isAssigned := req.Distributor != nil && sameUser(assigned(req.Distributor), actor.ID)
	isRequester := req.RequesterID == actor.ID

	if p.opts.AllowSelfApproval {
		return isAssigned || isRequester
	}
	return isAssigned && !isRequester
}
