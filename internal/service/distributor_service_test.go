package service

import (
	"context"
	"testing"

	"assetflow/internal/model"
	"assetflow/internal/policy"
	"assetflow/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDistributorService(env *testEnv) DistributorService {
	return NewDistributorService(env.deps.TxManager, env.deps.Distributors, env.deps.Users, env.deps.Audit)
}

func TestDistributorOptions(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	svc := newDistributorService(env)
	ctx := context.Background()

	opts, err := svc.Options(ctx, env.actor(env.se))
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, DistributorOption{
		Name:    "Capital Distributors",
		Code:    "D001",
		Town:    "City D001",
		ASMBM:   "User BM001",
		BMEmail: "BM001@example.com",
		RHEmail: "RH001@example.com",
	}, opts[0])

	opts, err = svc.Options(ctx, env.actor(env.admin))
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	opts, err = svc.Options(ctx, env.actor(env.otherBM))
	require.NoError(t, err)
	assert.Empty(t, opts)

	_, err = svc.Options(ctx, policy.Actor{ID: env.se.ID, Role: "se"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateAndUpdateDistributor(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	svc := newDistributorService(env)
	ctx := context.Background()
	admin := env.actor(env.admin)

	_, err := svc.Create(ctx, env.actor(env.bm), DistributorRequest{Code: "D010", Name: "x"})
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := svc.Create(ctx, admin, DistributorRequest{
		Code: " D010 ", Name: "Pune Agencies", City: "Pune", State: "MH",
		SEID: &env.se2.ID, BMID: &env.otherBM.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "D010", res.Code)
	require.NotNil(t, res.SEName)
	assert.Equal(t, "User SE002", *res.SEName)
	assert.Equal(t, "User BM002", *res.BMName)
	assert.Nil(t, res.RHID)

	// the new BM now sees the distributor in their picker
	opts, err := svc.Options(ctx, env.actor(env.otherBM))
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, "Pune Agencies", opts[0].Name)

	res, err = svc.Update(ctx, admin, res.ID, DistributorRequest{
		Code: "D010", Name: "Pune Agencies", City: "Pune", RHID: &env.rh.ID,
	})
	require.NoError(t, err)
	assert.Nil(t, res.SEID)
	assert.Nil(t, res.BMID)
	require.NotNil(t, res.RHName)
	assert.Equal(t, "User RH001", *res.RHName)

	var logs int64
	require.NoError(t, env.db.Model(&model.AuditLog{}).
		Where("action IN ?", []string{model.ActionCreateDistributor, model.ActionUpdateDistributor}).
		Count(&logs).Error)
	assert.Equal(t, int64(2), logs)
}

func TestDistributorValidation(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	svc := newDistributorService(env)
	ctx := context.Background()
	admin := env.actor(env.admin)
	missing := uint(9999)

	tests := []struct {
		name string
		req  DistributorRequest
		want error
	}{
		{"blank code", DistributorRequest{Code: " ", Name: "x"}, ErrValidation},
		{"duplicate code", DistributorRequest{Code: "D001", Name: "Another"}, ErrConflict},
		{"duplicate name", DistributorRequest{Code: "D099", Name: "Mumbai Traders"}, ErrConflict},
		{"BM slot holds an SE", DistributorRequest{Code: "D099", Name: "New", BMID: &env.se.ID}, ErrValidation},
		{"RH slot holds a BM", DistributorRequest{Code: "D099", Name: "New", RHID: &env.bm.ID}, ErrValidation},
		{"SE slot missing user", DistributorRequest{Code: "D099", Name: "New", SEID: &missing}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, admin, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// renaming onto itself is fine, onto a sibling is not
	_, err := svc.Update(ctx, admin, env.capital.ID, DistributorRequest{Code: "D001", Name: "Capital Distributors"})
	assert.NoError(t, err)
	_, err = svc.Update(ctx, admin, env.capital.ID, DistributorRequest{Code: "D002", Name: "Capital Distributors"})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = svc.Update(ctx, admin, 9999, DistributorRequest{Code: "D100", Name: "Ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDistributor(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	svc := newDistributorService(env)
	ctx := context.Background()
	admin := env.actor(env.admin)

	env.submit(t, "9000000001")
	assert.ErrorIs(t, svc.Delete(ctx, admin, env.capital.ID), ErrConflict)

	testutil.SeedDBUser(t, env.db, "DB0001", env.mumbai)
	err := svc.Delete(ctx, admin, env.mumbai.ID)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "DB user")

	empty := testutil.SeedDistributor(t, env.db, "D003", "Empty Depot", nil, nil, nil)
	assert.ErrorIs(t, svc.Delete(ctx, env.actor(env.se), empty.ID), ErrForbidden)
	require.NoError(t, svc.Delete(ctx, admin, empty.ID))
	assert.ErrorIs(t, svc.Delete(ctx, admin, empty.ID), ErrNotFound)

	list, total, err := svc.List(ctx, admin, DistributorListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)
}

func TestAuditList(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	svc := NewAuditService(env.deps.Audit)
	ctx := context.Background()

	req := env.submit(t, "9000000001")
	env.approveToRH(t, req.ID)
	require.NoError(t, env.db.Create(&model.AuditLog{Action: "SYSTEM_TASK", EntityID: "0"}).Error)

	_, _, err := svc.List(ctx, env.actor(env.bm), AuditListFilter{})
	assert.ErrorIs(t, err, ErrForbidden)

	logs, total, err := svc.List(ctx, env.actor(env.admin), AuditListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, logs, 3)
	assert.Equal(t, "SYSTEM_TASK", logs[0].Action)
	assert.Equal(t, "System", logs[0].UserName)

	logs, total, err = svc.List(ctx, env.actor(env.admin), AuditListFilter{Action: model.ActionApproveRequest})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "User BM001", logs[0].UserName)
	assert.Contains(t, logs[0].Details, model.StatusPendingRH)
}
