package policy_test

import (
	"testing"
	"time"

	"assetflow/internal/model"
	"assetflow/internal/policy"
	"assetflow/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type world struct {
	db                *gorm.DB
	se1, se2, bm, rh  *model.User
	admin, dbUser     *model.User
	d1, d2            *model.Distributor
	r1, r2, r3, rByBM *model.AssetRequest
}

func newRequest(t *testing.T, db *gorm.DB, requester *model.User, d *model.Distributor, contact string) *model.AssetRequest {
	t.Helper()
	req := &model.AssetRequest{
		RequesterID:       requester.ID,
		DistributorID:     d.ID,
		RequestDate:       time.Now().UTC(),
		Status:            model.StatusPendingBM,
		AssetModel:        model.AssetModels[0],
		Category:          model.Categories[0],
		RetailerName:      "Retailer " + contact,
		RetailerContact:   contact,
		AreaTown:          "Town",
		SellingIceCream:   "no",
		WillingForSignage: "yes",
	}
	require.NoError(t, db.Omit("Requester", "Distributor", "BMApprover", "RHApprover", "DeployedBy").Create(req).Error)
	return req
}

func setupWorld(t *testing.T) *world {
	db := testutil.SetupTestDB(t)
	w := &world{db: db}
	w.se1 = testutil.SeedUser(t, db, "SE001", policy.RoleSE)
	w.se2 = testutil.SeedUser(t, db, "SE002", policy.RoleSE)
	w.bm = testutil.SeedUser(t, db, "BM001", policy.RoleBM)
	w.rh = testutil.SeedUser(t, db, "RH001", policy.RoleRH)
	w.admin = testutil.SeedUser(t, db, "ADMIN01", policy.RoleAdmin)
	w.d1 = testutil.SeedDistributor(t, db, "D001", "Capital Distributors", w.se1, w.bm, w.rh)
	w.d2 = testutil.SeedDistributor(t, db, "D002", "Mumbai Traders", w.se2, nil, nil)
	w.dbUser = testutil.SeedDBUser(t, db, "DB0001", w.d2)

	w.r1 = newRequest(t, db, w.se1, w.d1, "9000000001")
	w.r2 = newRequest(t, db, w.se2, w.d2, "9000000002")
	w.r3 = newRequest(t, db, w.dbUser, w.d2, "9000000003")
	w.rByBM = newRequest(t, db, w.bm, w.d2, "9000000004")
	return w
}

func visibleIDs(t *testing.T, db *gorm.DB, scopes ...func(*gorm.DB) *gorm.DB) []uint {
	t.Helper()
	var ids []uint
	require.NoError(t, db.Model(&model.AssetRequest{}).Scopes(scopes...).Order("asset_requests.id").Pluck("asset_requests.id", &ids).Error)
	return ids
}

func TestScopeMatchesRoleContract(t *testing.T) {
	w := setupWorld(t)

	tests := []struct {
		name  string
		actor policy.Actor
		want  []uint
	}{
		{"admin sees everything", testutil.ActorFor(w.admin), []uint{w.r1.ID, w.r2.ID, w.r3.ID, w.rByBM.ID}},
		{"SE sees own requests", testutil.ActorFor(w.se1), []uint{w.r1.ID}},
		{"other SE sees own requests", testutil.ActorFor(w.se2), []uint{w.r2.ID}},
		{"BM sees managed and own", testutil.ActorFor(w.bm), []uint{w.r1.ID, w.rByBM.ID}},
		{"RH sees managed", testutil.ActorFor(w.rh), []uint{w.r1.ID}},
		{"DB sees own at own distributor", testutil.ActorFor(w.dbUser), []uint{w.r3.ID}},
		{"unknown role sees nothing", policy.Actor{ID: w.admin.ID, Role: "root"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := visibleIDs(t, w.db, policy.Scope(tt.actor))
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestScopeAgreesWithVisible(t *testing.T) {
	w := setupWorld(t)

	var all []model.AssetRequest
	require.NoError(t, w.db.Preload("Distributor").Find(&all).Error)

	for _, u := range []*model.User{w.se1, w.se2, w.bm, w.rh, w.admin, w.dbUser} {
		actor := testutil.ActorFor(u)
		var want []uint
		for i := range all {
			if policy.Visible(actor, &all[i]) {
				want = append(want, all[i].ID)
			}
		}
		assert.ElementsMatch(t, want, visibleIDs(t, w.db, policy.Scope(actor)), u.EmployeeCode)
	}
}

func TestScopeIsIdempotent(t *testing.T) {
	w := setupWorld(t)

	for _, u := range []*model.User{w.se1, w.bm, w.dbUser} {
		scope := policy.Scope(testutil.ActorFor(u))
		once := visibleIDs(t, w.db, scope)
		twice := visibleIDs(t, w.db, scope, scope)
		assert.Equal(t, once, twice, u.EmployeeCode)
	}
}

func TestScopeComposesWithFilters(t *testing.T) {
	w := setupWorld(t)

	// a search that would match an out-of-scope row must not bring it back
	search := func(db *gorm.DB) *gorm.DB {
		return db.Where("asset_requests.retailer_contact = ? OR asset_requests.retailer_contact = ?", "9000000001", "9000000002")
	}
	got := visibleIDs(t, w.db, policy.Scope(testutil.ActorFor(w.se1)), search)
	assert.Equal(t, []uint{w.r1.ID}, got)
}

func TestDistributorScope(t *testing.T) {
	w := setupWorld(t)

	codes := func(actor policy.Actor) []string {
		var out []string
		require.NoError(t, w.db.Model(&model.Distributor{}).Scopes(policy.DistributorScope(actor)).Order("code").Pluck("code", &out).Error)
		return out
	}

	assert.Equal(t, []string{"D001", "D002"}, codes(testutil.ActorFor(w.admin)))
	assert.Equal(t, []string{"D001"}, codes(testutil.ActorFor(w.se1)))
	assert.Equal(t, []string{"D002"}, codes(testutil.ActorFor(w.se2)))
	assert.Equal(t, []string{"D001"}, codes(testutil.ActorFor(w.bm)))
	assert.Equal(t, []string{"D001"}, codes(testutil.ActorFor(w.rh)))
	assert.Equal(t, []string{"D002"}, codes(testutil.ActorFor(w.dbUser)))
	assert.Empty(t, codes(policy.Actor{ID: 1, Role: policy.RoleDB}))
}
