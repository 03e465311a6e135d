package service

import (
	"context"
	"time"

	"assetflow/internal/policy"
	"assetflow/internal/repository"
	"assetflow/pkg/pagination"
)

type AuditLogResponse struct {
	ID         uint   `json:"id"`
	UserID     *uint  `json:"user_id"`
	UserName   string `json:"user_name"`
	Action     string `json:"action"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Details    string `json:"details"`
	CreatedAt  string `json:"created_at"`
}

type AuditListFilter struct {
	Page     int
	Limit    int
	Action   string
	EntityID string
}

type AuditService interface {
	List(ctx context.Context, actor policy.Actor, f AuditListFilter) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	repo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// List pages through the trail newest first. Entries whose author was deleted show as "System".
func (s *auditService) List(ctx context.Context, actor policy.Actor, f AuditListFilter) ([]AuditLogResponse, int64, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	page := pagination.Bound(f.Page, f.Limit)
	f.Page, f.Limit = page.Page, page.Limit

	logs, total, err := s.repo.List(ctx, repository.AuditFilter{
		Action:   f.Action,
		EntityID: f.EntityID,
		Offset:   page.Offset,
		Limit:    f.Limit,
	})
	if err != nil {
		return nil, 0, err
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		name := "System"
		if l.User != nil {
			name = l.User.Name
		}
		res = append(res, AuditLogResponse{
			ID:         l.ID,
			UserID:     l.UserID,
			UserName:   name,
			Action:     l.Action,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			Details:    l.Details,
			CreatedAt:  l.CreatedAt.Format(time.RFC3339),
		})
	}

	return res, total, nil
}
