package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"assetflow/internal/model"
	"assetflow/internal/policy"
	"assetflow/internal/repository"
)

// Error classes. Every error a service returns wraps exactly one of these.
var (
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("already exists")
	ErrForbidden     = policy.ErrForbidden
	ErrStageMismatch = policy.ErrStageMismatch
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("invalid credentials")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// lookupErr maps a repository miss to ErrNotFound and passes everything else through.
func lookupErr(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound(what)
	}
	return err
}

// writeAudit records an action through the transaction carried by ctx.
func writeAudit(ctx context.Context, repo repository.AuditRepository, actorID uint, action string, entityID uint, entityName string, details interface{}) error {
	payload, _ := json.Marshal(details)
	uid := actorID
	entry := &model.AuditLog{
		UserID:     &uid,
		Action:     action,
		EntityID:   strconv.FormatUint(uint64(entityID), 10),
		EntityName: entityName,
		Details:    string(payload),
	}
	if err := repo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
