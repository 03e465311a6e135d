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

func TestListIsScopedPerRole(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()

	a := env.submit(t, "9000000001")
	b := env.submit(t, "9000000002")
	c, err := env.requests.Create(ctx, env.actor(env.se2), createDTO("Mumbai Traders", "9000000003"))
	require.NoError(t, err)

	ids := func(res *RequestListResult) []uint {
		out := make([]uint, 0, len(res.Items))
		for _, item := range res.Items {
			out = append(out, item.ID)
		}
		return out
	}

	tests := []struct {
		name  string
		actor policy.Actor
		want  []uint
	}{
		{"SE sees own", env.actor(env.se), []uint{a.ID, b.ID}},
		{"other SE sees own", env.actor(env.se2), []uint{c.ID}},
		{"assigned BM", env.actor(env.bm), []uint{a.ID, b.ID}},
		{"unassigned BM", env.actor(env.otherBM), []uint{}},
		{"assigned RH", env.actor(env.rh), []uint{a.ID, b.ID}},
		{"admin", env.actor(env.admin), []uint{a.ID, b.ID, c.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.requests.List(ctx, tt.actor, RequestListFilter{})
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids(res))
			assert.Equal(t, int64(len(tt.want)), res.Total)
			assert.Equal(t, int64(len(tt.want)), res.Stats.Total)
			assert.Equal(t, 1, res.Page)
			assert.Equal(t, DefaultPageSize, res.Limit)
		})
	}

	_, err = env.requests.List(ctx, policy.Actor{ID: env.admin.ID, Role: "Root"}, RequestListFilter{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListFiltersNarrowScope(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()

	a := env.submit(t, "9000000001")
	env.submit(t, "9000000002")
	c, err := env.requests.Create(ctx, env.actor(env.se2), createDTO("Mumbai Traders", "9000000003"))
	require.NoError(t, err)
	env.approveToRH(t, a.ID)

	// SE cannot widen the set through the requester filter
	res, err := env.requests.List(ctx, env.actor(env.se), RequestListFilter{RequesterID: &env.se2.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Total)
	assert.Nil(t, res.Requesters)

	res, err = env.requests.List(ctx, env.actor(env.admin), RequestListFilter{RequesterID: &env.se2.ID})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, c.ID, res.Items[0].ID)
	assert.Len(t, res.Requesters, 2)
	assert.Equal(t, int64(3), res.Stats.Total, "stats ignore list filters")

	res, err = env.requests.List(ctx, env.actor(env.admin), RequestListFilter{Status: model.StatusPendingRH})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, a.ID, res.Items[0].ID)
	assert.ElementsMatch(t, []string{model.StatusPendingBM, model.StatusPendingRH}, res.Statuses)

	res, err = env.requests.List(ctx, env.actor(env.admin), RequestListFilter{SearchDistributor: "mumbai"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Mumbai Traders", res.Items[0].DistributorName)

	// a search cannot bring back rows outside the BM's scope
	res, err = env.requests.List(ctx, env.actor(env.bm), RequestListFilter{SearchDistributor: "mumbai"})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestListPagingAndSort(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()

	var created []uint
	for _, contact := range []string{"9000000001", "9000000002", "9000000003"} {
		created = append(created, env.submit(t, contact).ID)
	}

	res, err := env.requests.List(ctx, env.actor(env.se), RequestListFilter{Page: 1, Limit: 2, Sort: "id", Order: "asc"})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, created[0], res.Items[0].ID)
	assert.Equal(t, created[1], res.Items[1].ID)
	assert.Equal(t, int64(3), res.Total)

	res, err = env.requests.List(ctx, env.actor(env.se), RequestListFilter{Page: 2, Limit: 2, Sort: "id", Order: "asc"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, created[2], res.Items[0].ID)

	res, err = env.requests.List(ctx, env.actor(env.se), RequestListFilter{Sort: "id", Order: "desc"})
	require.NoError(t, err)
	assert.Equal(t, created[2], res.Items[0].ID)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()

	a := env.submit(t, "9000000001")
	b := env.submit(t, "9000000002")
	c := env.submit(t, "9000000003")
	env.submit(t, "9000000004")

	env.approveFully(t, a.ID)
	_, err := env.deployment.Deploy(ctx, env.actor(env.se), a.ID, deployDTO("SN-1"))
	require.NoError(t, err)
	env.approveToRH(t, b.ID)
	env.approveToRH(t, c.ID)
	_, err = env.approvals.Reject(ctx, env.actor(env.rh), c.ID, RejectRequestDTO{Remarks: "no"})
	require.NoError(t, err)

	st, err := env.requests.Stats(ctx, env.actor(env.bm))
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Total)
	assert.Equal(t, int64(2), st.Pending)
	assert.Equal(t, int64(1), st.PendingBM)
	assert.Equal(t, int64(1), st.PendingRH)
	assert.Equal(t, int64(0), st.Approved)
	assert.Equal(t, int64(1), st.Deployed)
	assert.Equal(t, int64(1), st.Rejected)
	// rejected requests do not count towards collected security
	assert.Equal(t, "10000.00", st.SecurityTotal)

	st, err = env.requests.Stats(ctx, env.actor(env.otherBM))
	require.NoError(t, err)
	assert.Zero(t, st.Total)
	assert.Equal(t, "0.00", st.SecurityTotal)
}

func TestCheckPhone(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()

	req := env.submit(t, "9876543210")

	matches, err := env.requests.CheckPhone(ctx, "9876543210")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Req #"+uintString(req.ID)+" (Pending BM Approval)", matches[0])

	matches, err = env.requests.CheckPhone(ctx, "9123456789")
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = env.requests.CheckPhone(ctx, "98765")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDBUserSubmitsForOwnDistributor(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()
	dbUser := testutil.SeedDBUser(t, env.db, "DB0001", env.mumbai)

	res, err := env.requests.Create(ctx, env.actor(dbUser), createDTO("Mumbai Traders", "9000000005"))
	require.NoError(t, err)
	assert.Equal(t, dbUser.ID, res.RequesterID)

	_, err = env.requests.Create(ctx, env.actor(dbUser), createDTO("Capital Distributors", "9000000006"))
	assert.ErrorIs(t, err, ErrForbidden)

	list, err := env.requests.List(ctx, env.actor(dbUser), RequestListFilter{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, res.ID, list.Items[0].ID)
}
