package service

import (
	"context"
	"strconv"
	"testing"

	"assetflow/internal/model"
	"assetflow/internal/policy"
	"assetflow/internal/repository"
	"assetflow/internal/storage"
	"assetflow/internal/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// testEnv is a seeded workflow: SE001 files against Capital Distributors (BM001, RH001),
// SE002 owns Mumbai Traders, BM002 manages nothing.
type testEnv struct {
	db        *gorm.DB
	uploadDir string
	notifier  *testutil.RecordingNotifier
	deps      WorkflowDeps

	requests   AssetRequestService
	approvals  ApprovalService
	deployment DeploymentService

	se, se2, bm, otherBM, rh, admin *model.User
	capital, mumbai                 *model.Distributor
}

func newTestEnv(t *testing.T, opts policy.Options) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir)
	require.NoError(t, err)

	env := &testEnv{db: db, uploadDir: dir, notifier: &testutil.RecordingNotifier{}}
	env.deps = WorkflowDeps{
		TxManager:    repository.NewTransactionManager(db),
		Requests:     repository.NewAssetRequestRepository(db),
		Distributors: repository.NewDistributorRepository(db),
		Users:        repository.NewUserRepository(db),
		Audit:        repository.NewAuditRepository(db),
		Photos:       storage.NewPhotos(store, 1<<20),
		Policy:       policy.New(opts),
		Notifier:     env.notifier,
		Log:          zap.NewNop(),
	}
	env.rebuild()

	env.se = testutil.SeedUser(t, db, "SE001", policy.RoleSE)
	env.se2 = testutil.SeedUser(t, db, "SE002", policy.RoleSE)
	env.bm = testutil.SeedUser(t, db, "BM001", policy.RoleBM)
	env.otherBM = testutil.SeedUser(t, db, "BM002", policy.RoleBM)
	env.rh = testutil.SeedUser(t, db, "RH001", policy.RoleRH)
	env.admin = testutil.SeedUser(t, db, "ADMIN01", policy.RoleAdmin)
	env.capital = testutil.SeedDistributor(t, db, "D001", "Capital Distributors", env.se, env.bm, env.rh)
	env.mumbai = testutil.SeedDistributor(t, db, "D002", "Mumbai Traders", env.se2, nil, nil)
	return env
}

func (e *testEnv) rebuild() {
	e.requests = NewAssetRequestService(e.deps)
	e.approvals = NewApprovalService(e.deps)
	e.deployment = NewDeploymentService(e.deps)
}

func (e *testEnv) actor(u *model.User) policy.Actor {
	return testutil.ActorFor(u)
}

func createDTO(distributor, contact string) CreateAssetRequestDTO {
	lat, lng := 28.6139, 77.2090
	return CreateAssetRequestDTO{
		DistributorName:   distributor,
		AssetModel:        "300 GT",
		Category:          "Bakery",
		Latitude:          &lat,
		Longitude:         &lng,
		RetailerName:      "Sharma Sweets",
		RetailerContact:   contact,
		AreaTown:          "Karol Bagh",
		Landmark:          "Near metro",
		RetailerAddress:   "12 Main Road",
		SellingIceCream:   "no",
		WillingForSignage: "yes",
		Photo:             testutil.PNGDataURL,
	}
}

func (e *testEnv) submit(t *testing.T, contact string) *AssetRequestResponse {
	t.Helper()
	res, err := e.requests.Create(context.Background(), e.actor(e.se), createDTO(e.capital.Name, contact))
	require.NoError(t, err)
	return res
}

func (e *testEnv) approveToRH(t *testing.T, id uint) {
	t.Helper()
	_, err := e.approvals.Approve(context.Background(), e.actor(e.bm), id, ApproveRequestDTO{
		ApprovalType:   ApproveWithSecurity,
		SecurityAmount: "5000",
	})
	require.NoError(t, err)
}

func (e *testEnv) approveFully(t *testing.T, id uint) {
	t.Helper()
	e.approveToRH(t, id)
	_, err := e.approvals.Approve(context.Background(), e.actor(e.rh), id, ApproveRequestDTO{Remarks: "ok"})
	require.NoError(t, err)
}

func (e *testEnv) status(t *testing.T, id uint) string {
	t.Helper()
	var req model.AssetRequest
	require.NoError(t, e.db.First(&req, id).Error)
	return req.Status
}

func deployDTO(serial string) DeployRequestDTO {
	return DeployRequestDTO{
		Make:     "Western",
		SerialNo: serial,
		Photo1:   testutil.PNGDataURL,
		Photo2:   testutil.PNGDataURL,
	}
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
