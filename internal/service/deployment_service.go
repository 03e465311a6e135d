package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"assetflow/internal/model"
	"assetflow/internal/notify"
	"assetflow/internal/policy"
	"assetflow/internal/repository"
	"assetflow/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type DeployRequestDTO struct {
	Make     string `json:"make" binding:"required,max=100"`
	SerialNo string `json:"serial_no" binding:"required,max=100"`
	Photo1   string `json:"photo1"`
	Photo2   string `json:"photo2"`
}

type DeploymentService interface {
	Deploy(ctx context.Context, actor policy.Actor, id uint, req DeployRequestDTO) (*AssetRequestResponse, error)
}

type deploymentService struct {
	WorkflowDeps
}

func NewDeploymentService(deps WorkflowDeps) DeploymentService {
	return &deploymentService{WorkflowDeps: deps}
}

// Deploy closes an approved request. Photos are written before the row is updated and removed
// again if the update fails, so a rejected attempt leaves the request Approved with no deployment data.
func (s *deploymentService) Deploy(ctx context.Context, actor policy.Actor, id uint, dto DeployRequestDTO) (*AssetRequestResponse, error) {
	deployedMake := strings.TrimSpace(dto.Make)
	serial := strings.TrimSpace(dto.SerialNo)
	if deployedMake == "" || len(deployedMake) > 100 {
		return nil, validationf("asset make is required (max 100 characters)")
	}
	if serial == "" || len(serial) > 100 {
		return nil, validationf("serial number is required (max 100 characters)")
	}

	req, err := s.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, fmt.Sprintf("request #%d", id))
	}
	if err := s.Policy.Authorize(actor, policy.ActionDeploy, req); err != nil {
		return nil, fmt.Errorf("%w: cannot confirm deployment of request #%d (%s)", err, id, req.Status)
	}

	photos, err := s.decodePhotos(dto.Photo1, dto.Photo2)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(photos))
	cleanup := func() {
		if err := s.Photos.Remove(context.WithoutCancel(ctx), names...); err != nil {
			s.Log.Warn("failed to remove deployment photos", zap.Strings("files", names), zap.Error(err))
		}
	}
	for _, p := range photos {
		name, err := s.Photos.Save(ctx, p)
		if err != nil {
			cleanup()
			return nil, err
		}
		names = append(names, name)
	}

	now := time.Now().UTC()
	err = s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		err := s.Requests.Transition(txCtx, id, model.StatusApproved, map[string]interface{}{
			"status":                     model.StatusDeployed,
			"deployed_make":              deployedMake,
			"deployed_serial_no":         serial,
			"deployment_photo1_filename": names[0],
			"deployment_photo2_filename": names[1],
			"deployed_by_id":             actor.ID,
			"deployment_date":            now,
		})
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return conflictf("serial number %s is already used by another request", serial)
		case errors.Is(err, repository.ErrStaleState):
			return fmt.Errorf("%w: request #%d is no longer approved", ErrStageMismatch, id)
		case err != nil:
			return err
		}

		return writeAudit(txCtx, s.Audit, actor.ID, model.ActionDeployAsset, id, req.RetailerName, map[string]interface{}{
			"make":      deployedMake,
			"serial_no": serial,
		})
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	updated, err := s.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var recipient *model.User
	if s.NotifyRequester && actor.ID != updated.RequesterID {
		recipient = updated.Requester
	}
	s.Notifier.Publish(newEvent(notify.EventDeployed, updated, actorDisplayName(ctx, s.Users, actor), recipient, ""))

	return toAssetRequestResponse(updated), nil
}

// decodePhotos validates both payloads in parallel; either failing rejects the deployment.
func (s *deploymentService) decodePhotos(dataURLs ...string) ([]*storage.Photo, error) {
	photos := make([]*storage.Photo, len(dataURLs))
	var g errgroup.Group
	for i, u := range dataURLs {
		g.Go(func() error {
			p, err := s.Photos.Decode(u)
			if err != nil {
				return fmt.Errorf("%w: deployment photo %d: %w", ErrValidation, i+1, err)
			}
			photos[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return photos, nil
}
