package service

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"assetflow/internal/model"
	"assetflow/internal/notify"
	"assetflow/internal/policy"
	"assetflow/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRequestNotifiesBM(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()

	res, err := env.requests.Create(ctx, env.actor(env.se), createDTO("Capital Distributors", "9876543210"))
	require.NoError(t, err)

	assert.Equal(t, model.StatusPendingBM, res.Status)
	assert.Equal(t, env.se.ID, res.RequesterID)
	assert.Equal(t, env.capital.ID, res.DistributorID)
	assert.Equal(t, "D001", res.DistributorCode)
	assert.NotEmpty(t, res.PhotoFilename)
	assert.FileExists(t, env.uploadDir+"/"+res.PhotoFilename)

	ev, ok := env.notifier.Last()
	require.True(t, ok)
	assert.Equal(t, notify.EventRequestCreated, ev.Kind)
	require.NotNil(t, ev.Recipient)
	assert.Equal(t, env.bm.ID, ev.Recipient.UserID)
	assert.Equal(t, "BM001@example.com", ev.Recipient.Email)
	assert.ElementsMatch(t, []uint{env.se.ID, env.bm.ID, env.rh.ID}, ev.Audience)

	var logs []model.AuditLog
	require.NoError(t, env.db.Where("action = ?", model.ActionCreateAssetRequest).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, env.se.ID, *logs[0].UserID)

	// visibility
	_, err = env.requests.Get(ctx, env.actor(env.bm), res.ID)
	assert.NoError(t, err)
	_, err = env.requests.Get(ctx, env.actor(env.otherBM), res.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.requests.Get(ctx, env.actor(env.se2), res.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.requests.Get(ctx, env.actor(env.admin), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRequestWithoutBMStillSucceeds(t *testing.T) {
	env := newTestEnv(t, policy.Options{})

	res, err := env.requests.Create(context.Background(), env.actor(env.se2), createDTO("Mumbai Traders", "9876500000"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingBM, res.Status)

	ev, ok := env.notifier.Last()
	require.True(t, ok)
	assert.Nil(t, ev.Recipient)
}

func TestCreateRequestValidation(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()
	se := env.actor(env.se)

	tests := []struct {
		name   string
		actor  policy.Actor
		mutate func(*CreateAssetRequestDTO)
		want   error
	}{
		{"short contact", se, func(d *CreateAssetRequestDTO) { d.RetailerContact = "12345" }, ErrValidation},
		{"letters in contact", se, func(d *CreateAssetRequestDTO) { d.RetailerContact = "98765abcde" }, ErrValidation},
		{"unknown model", se, func(d *CreateAssetRequestDTO) { d.AssetModel = "900 XL" }, ErrValidation},
		{"unknown category", se, func(d *CreateAssetRequestDTO) { d.Category = "Garage" }, ErrValidation},
		{"missing location", se, func(d *CreateAssetRequestDTO) { d.Latitude = nil }, ErrValidation},
		{"latitude out of range", se, func(d *CreateAssetRequestDTO) { v := 123.0; d.Latitude = &v }, ErrValidation},
		{"bad email", se, func(d *CreateAssetRequestDTO) { d.RetailerEmail = "not-an-email" }, ErrValidation},
		{"bad yes/no", se, func(d *CreateAssetRequestDTO) { d.SellingIceCream = "maybe" }, ErrValidation},
		{"bad placement date", se, func(d *CreateAssetRequestDTO) { d.PlacementDate = "15/01/2026" }, ErrValidation},
		{"missing photo", se, func(d *CreateAssetRequestDTO) { d.Photo = "" }, ErrValidation},
		{"gif photo", se, func(d *CreateAssetRequestDTO) { d.Photo = "data:image/gif;base64,R0lGODlhAQABAAAAACw=" }, ErrValidation},
		{"photo bytes are not an image", se, func(d *CreateAssetRequestDTO) { d.Photo = "data:image/png;base64,aGVsbG8=" }, ErrValidation},
		{"long landmark", se, func(d *CreateAssetRequestDTO) { d.Landmark = strings.Repeat("x", 201) }, ErrValidation},
		{"long area", se, func(d *CreateAssetRequestDTO) { d.AreaTown = strings.Repeat("x", 101) }, ErrValidation},
		{"long email", se, func(d *CreateAssetRequestDTO) { d.RetailerEmail = strings.Repeat("a", 120) + "@example.com" }, ErrValidation},
		{"long monthly sales", se, func(d *CreateAssetRequestDTO) {
			d.SellingIceCream = "yes"
			d.MonthlySales = strings.Repeat("9", 51)
		}, ErrValidation},
		{"long brands", se, func(d *CreateAssetRequestDTO) {
			d.SellingIceCream = "yes"
			d.IceCreamBrands = strings.Repeat("b", 201)
		}, ErrValidation},
		{"long competitor assets", se, func(d *CreateAssetRequestDTO) {
			d.SellingIceCream = "yes"
			d.CompetitorAssets = strings.Repeat("c", 201)
		}, ErrValidation},
		{"unknown distributor", se, func(d *CreateAssetRequestDTO) { d.DistributorName = "Nowhere Ltd" }, ErrNotFound},
		{"distributor not assigned", se, func(d *CreateAssetRequestDTO) { d.DistributorName = "Mumbai Traders" }, ErrForbidden},
		{"BM cannot create", env.actor(env.bm), func(*CreateAssetRequestDTO) {}, ErrForbidden},
		{"RH cannot create", env.actor(env.rh), func(*CreateAssetRequestDTO) {}, ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dto := createDTO("Capital Distributors", "9000000001")
			tt.mutate(&dto)
			_, err := env.requests.Create(ctx, tt.actor, dto)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	var count int64
	require.NoError(t, env.db.Model(&model.AssetRequest{}).Count(&count).Error)
	assert.Zero(t, count)

	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected submissions leave no photos behind")
}

func TestCreateRequestReportsPhotoWithFieldErrors(t *testing.T) {
	env := newTestEnv(t, policy.Options{})

	dto := createDTO("Capital Distributors", "12345")
	dto.Photo = "data:image/png;base64,aGVsbG8="
	_, err := env.requests.Create(context.Background(), env.actor(env.se), dto)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "retailer contact must be exactly 10 digits")
	assert.Contains(t, err.Error(), "invalid photo")

	dto = createDTO("Capital Distributors", "9000000001")
	dto.Photo = "data:image/png;base64,aGVsbG8="
	_, err = env.requests.Create(context.Background(), env.actor(env.se), dto)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "invalid photo")
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()

	lat, lng := 19.0760, 72.8777
	dto := CreateAssetRequestDTO{
		DistributorName:     "Capital Distributors",
		AssetModel:          "500 HT",
		Category:            "Kirana Store",
		PlacementDate:       "2026-03-15",
		Latitude:            &lat,
		Longitude:           &lng,
		RetailerName:        "Gupta General Store",
		RetailerContact:     "9123456780",
		AreaTown:            "Andheri",
		Landmark:            "Opposite the post office",
		RetailerAddress:     "4 Station Road, Andheri West",
		RetailerEmail:       "gupta.store@example.com",
		SellingIceCream:     "yes",
		MonthlySales:        "25000",
		IceCreamBrands:      "Amul, Kwality",
		CompetitorAssets:    "One visi cooler",
		SignageAvailability: "no",
		WillingForSignage:   "yes",
		Photo:               testutil.PNGDataURL,
	}

	created, err := env.requests.Create(ctx, env.actor(env.se), dto)
	require.NoError(t, err)

	got, err := env.requests.Get(ctx, env.actor(env.se), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	assert.Equal(t, env.capital.ID, got.DistributorID)
	assert.Equal(t, dto.DistributorName, got.DistributorName)
	assert.Equal(t, dto.AssetModel, got.AssetModel)
	assert.Equal(t, dto.Category, got.Category)
	require.NotNil(t, got.PlacementDate)
	assert.Equal(t, dto.PlacementDate, *got.PlacementDate)
	assert.InDelta(t, lat, got.Latitude, 1e-9)
	assert.InDelta(t, lng, got.Longitude, 1e-9)
	assert.Equal(t, dto.RetailerName, got.RetailerName)
	assert.Equal(t, dto.RetailerContact, got.RetailerContact)
	assert.Equal(t, dto.AreaTown, got.AreaTown)
	assert.Equal(t, dto.Landmark, got.Landmark)
	assert.Equal(t, dto.RetailerAddress, got.RetailerAddress)
	require.NotNil(t, got.RetailerEmail)
	assert.Equal(t, dto.RetailerEmail, *got.RetailerEmail)
	assert.Equal(t, dto.SellingIceCream, got.SellingIceCream)
	require.NotNil(t, got.MonthlySales)
	assert.Equal(t, dto.MonthlySales, *got.MonthlySales)
	require.NotNil(t, got.IceCreamBrands)
	assert.Equal(t, dto.IceCreamBrands, *got.IceCreamBrands)
	require.NotNil(t, got.CompetitorAssets)
	assert.Equal(t, dto.CompetitorAssets, *got.CompetitorAssets)
	require.NotNil(t, got.SignageAvailability)
	assert.Equal(t, dto.SignageAvailability, *got.SignageAvailability)
	assert.Equal(t, dto.WillingForSignage, got.WillingForSignage)
	assert.FileExists(t, env.uploadDir+"/"+got.PhotoFilename)
}

func TestCreateRequestFollowUpFieldsOnlyWhenSelling(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()

	dto := createDTO("Capital Distributors", "9000000010")
	dto.MonthlySales = "10000"
	dto.IceCreamBrands = "Amul"
	res, err := env.requests.Create(ctx, env.actor(env.se), dto)
	require.NoError(t, err)
	assert.Nil(t, res.MonthlySales)
	assert.Nil(t, res.IceCreamBrands)

	dto = createDTO("Capital Distributors", "9000000011")
	dto.SellingIceCream = "yes"
	dto.MonthlySales = "10000"
	dto.IceCreamBrands = "Amul"
	dto.SignageAvailability = "no"
	dto.PlacementDate = "2026-02-01"
	res, err = env.requests.Create(ctx, env.actor(env.se), dto)
	require.NoError(t, err)
	require.NotNil(t, res.MonthlySales)
	assert.Equal(t, "10000", *res.MonthlySales)
	require.NotNil(t, res.PlacementDate)
	assert.Equal(t, "2026-02-01", *res.PlacementDate)
}

func TestDuplicateRetailerContact(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()

	env.submit(t, "9876543210")

	_, err := env.requests.Create(ctx, env.actor(env.se), createDTO("Capital Distributors", "9876543210"))
	assert.ErrorIs(t, err, ErrConflict)

	var count int64
	require.NoError(t, env.db.Model(&model.AssetRequest{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the losing submission's photo is removed")
}

func TestBMApprovesWithSecurity(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	req := env.submit(t, "9876543210")

	res, err := env.approvals.Approve(context.Background(), env.actor(env.bm), req.ID, ApproveRequestDTO{
		ApprovalType:   ApproveWithSecurity,
		SecurityAmount: "5000",
		Remarks:        "ignored for BM",
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPendingRH, res.Status)
	require.NotNil(t, res.BMApprovalType)
	assert.Equal(t, model.ApprovalTypeSecurity, *res.BMApprovalType)
	require.NotNil(t, res.BMSecurityAmount)
	assert.Equal(t, 5000, *res.BMSecurityAmount)
	assert.Nil(t, res.BMFOCJustification)
	assert.Nil(t, res.BMRemarks)
	require.NotNil(t, res.BMApproverID)
	assert.Equal(t, env.bm.ID, *res.BMApproverID)
	assert.Equal(t, env.bm.Name, res.BMApproverName)

	ev, ok := env.notifier.Last()
	require.True(t, ok)
	assert.Equal(t, notify.EventBMApproved, ev.Kind)
	require.NotNil(t, ev.Recipient)
	assert.Equal(t, env.rh.ID, ev.Recipient.UserID)
	assert.Equal(t, env.bm.Name, ev.ActorName)
}

func TestBMApprovesFreeOfCost(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	req := env.submit(t, "9876543210")

	res, err := env.approvals.Approve(context.Background(), env.actor(env.bm), req.ID, ApproveRequestDTO{
		ApprovalType:     ApproveFreeOfCost,
		FOCJustification: "Key outlet",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingRH, res.Status)
	assert.Equal(t, model.ApprovalTypeFreeOfCost, *res.BMApprovalType)
	assert.Equal(t, "Key outlet", *res.BMFOCJustification)
	assert.Nil(t, res.BMSecurityAmount)
}

func TestBMApprovalValidation(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	req := env.submit(t, "9876543210")
	bm := env.actor(env.bm)

	cases := []ApproveRequestDTO{
		{ApprovalType: ApproveWithSecurity, SecurityAmount: "0"},
		{ApprovalType: ApproveWithSecurity, SecurityAmount: "-5"},
		{ApprovalType: ApproveWithSecurity, SecurityAmount: "abc"},
		{ApprovalType: ApproveWithSecurity},
		{ApprovalType: ApproveFreeOfCost, FOCJustification: "   "},
		{ApprovalType: "discount"},
		{},
	}
	for _, dto := range cases {
		_, err := env.approvals.Approve(context.Background(), bm, req.ID, dto)
		assert.ErrorIs(t, err, ErrValidation, "%+v", dto)
	}

	assert.Equal(t, model.StatusPendingBM, env.status(t, req.ID))
	assert.Len(t, env.notifier.Events(), 1, "only the creation event")
}

func TestRHRejectionIsTerminal(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()
	req := env.submit(t, "9876543210")
	env.approveToRH(t, req.ID)

	_, err := env.approvals.Reject(ctx, env.actor(env.rh), req.ID, RejectRequestDTO{Remarks: "  "})
	assert.ErrorIs(t, err, ErrValidation)

	res, err := env.approvals.Reject(ctx, env.actor(env.rh), req.ID, RejectRequestDTO{Remarks: "Low footfall"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejectedRH, res.Status)
	require.NotNil(t, res.RHRemarks)
	assert.Equal(t, "Low footfall", *res.RHRemarks)

	ev, ok := env.notifier.Last()
	require.True(t, ok)
	assert.Equal(t, notify.EventRejected, ev.Kind)
	assert.Equal(t, "Low footfall", ev.Remarks)
	assert.Nil(t, ev.Recipient, "requester mail is off by default")

	_, err = env.approvals.Approve(ctx, env.actor(env.rh), req.ID, ApproveRequestDTO{})
	assert.ErrorIs(t, err, ErrStageMismatch)
	_, err = env.approvals.Approve(ctx, env.actor(env.bm), req.ID, ApproveRequestDTO{ApprovalType: ApproveFreeOfCost, FOCJustification: "x"})
	assert.ErrorIs(t, err, ErrStageMismatch)
	_, err = env.approvals.Reject(ctx, env.actor(env.admin), req.ID, RejectRequestDTO{Remarks: "again"})
	assert.ErrorIs(t, err, ErrStageMismatch)
	_, err = env.deployment.Deploy(ctx, env.actor(env.se), req.ID, deployDTO("SN-1"))
	assert.ErrorIs(t, err, ErrStageMismatch)

	assert.Equal(t, model.StatusRejectedRH, env.status(t, req.ID))
}

func TestBMRejection(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	req := env.submit(t, "9876543210")

	res, err := env.approvals.Reject(context.Background(), env.actor(env.bm), req.ID, RejectRequestDTO{Remarks: "Duplicate outlet"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejectedBM, res.Status)
	assert.Equal(t, "Duplicate outlet", *res.BMRemarks)
	assert.Nil(t, res.RHApproverID)
}

func TestApproverChecksRunBeforeStage(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()
	req := env.submit(t, "9876543210")

	// RH is assigned but it is the BM's turn
	_, err := env.approvals.Approve(ctx, env.actor(env.rh), req.ID, ApproveRequestDTO{})
	assert.ErrorIs(t, err, ErrStageMismatch)

	// unrelated BM never learns the stage
	_, err = env.approvals.Approve(ctx, env.actor(env.otherBM), req.ID, ApproveRequestDTO{ApprovalType: ApproveFreeOfCost, FOCJustification: "x"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.approvals.Approve(ctx, env.actor(env.se), req.ID, ApproveRequestDTO{})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.approvals.Approve(ctx, env.actor(env.admin), 9999, ApproveRequestDTO{})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, model.StatusPendingBM, env.status(t, req.ID))
}

func TestAdminOverride(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	req := env.submit(t, "9876543210")

	res, err := env.approvals.Approve(context.Background(), env.actor(env.admin), req.ID, ApproveRequestDTO{Remarks: "urgent"})
	require.NoError(t, err)

	assert.Equal(t, model.StatusApproved, res.Status)
	assert.Equal(t, model.ApprovalTypeAdminOverride, *res.BMApprovalType)
	assert.Equal(t, env.admin.ID, *res.BMApproverID)
	assert.Equal(t, env.admin.ID, *res.RHApproverID)
	assert.Equal(t, "Approved by Admin: urgent", *res.RHRemarks)
	assert.Equal(t, "Approved by Admin: urgent", *res.BMRemarks)

	ev, ok := env.notifier.Last()
	require.True(t, ok)
	assert.Equal(t, notify.EventApproved, ev.Kind)
}

func TestAdminOverrideAtRHStageKeepsBMDecision(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	req := env.submit(t, "9876543210")
	env.approveToRH(t, req.ID)

	res, err := env.approvals.Reject(context.Background(), env.actor(env.admin), req.ID, RejectRequestDTO{Remarks: "budget"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejectedAdmin, res.Status)
	assert.Equal(t, env.bm.ID, *res.BMApproverID)
	assert.Equal(t, 5000, *res.BMSecurityAmount)
	assert.Equal(t, "Rejected by Admin: budget", *res.RHRemarks)
}

func TestRequesterNotification(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	env.deps.NotifyRequester = true
	env.rebuild()

	req := env.submit(t, "9876543210")
	env.approveFully(t, req.ID)

	ev, ok := env.notifier.Last()
	require.True(t, ok)
	assert.Equal(t, notify.EventApproved, ev.Kind)
	require.NotNil(t, ev.Recipient)
	assert.Equal(t, env.se.ID, ev.Recipient.UserID)

	// no mail to yourself
	_, err := env.deployment.Deploy(context.Background(), env.actor(env.se), req.ID, deployDTO("SN-1"))
	require.NoError(t, err)
	ev, _ = env.notifier.Last()
	assert.Equal(t, notify.EventDeployed, ev.Kind)
	assert.Nil(t, ev.Recipient)
}

func TestSelfApprovalOption(t *testing.T) {
	// a BM request at a distributor managed by someone else
	for _, allow := range []bool{false, true} {
		env := newTestEnv(t, policy.Options{AllowSelfApproval: allow})
		req := env.submit(t, "9876543210")
		require.NoError(t, env.db.Model(&model.AssetRequest{}).Where("id = ?", req.ID).
			Update("requester_id", env.otherBM.ID).Error)

		_, err := env.approvals.Approve(context.Background(), env.actor(env.otherBM), req.ID, ApproveRequestDTO{
			ApprovalType: ApproveFreeOfCost, FOCJustification: "own outlet",
		})
		if allow {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, ErrForbidden)
		}
	}
}

func TestDeploy(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()
	req := env.submit(t, "9876543210")
	env.approveFully(t, req.ID)

	_, err := env.deployment.Deploy(ctx, env.actor(env.se2), req.ID, deployDTO("SN-1"))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.deployment.Deploy(ctx, env.actor(env.bm), req.ID, deployDTO("SN-1"))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.deployment.Deploy(ctx, env.actor(env.se), req.ID, DeployRequestDTO{Make: "Western", SerialNo: " "})
	assert.ErrorIs(t, err, ErrValidation)
	bad := deployDTO("SN-1")
	bad.Photo2 = "data:image/png;base64,@@@"
	_, err = env.deployment.Deploy(ctx, env.actor(env.se), req.ID, bad)
	assert.ErrorIs(t, err, ErrValidation)

	res, err := env.deployment.Deploy(ctx, env.actor(env.se), req.ID, deployDTO(" SN-1 "))
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeployed, res.Status)
	assert.Equal(t, "SN-1", *res.DeployedSerialNo)
	assert.Equal(t, "Western", *res.DeployedMake)
	assert.Equal(t, env.se.ID, *res.DeployedByID)
	require.NotNil(t, res.DeploymentDate)
	assert.FileExists(t, env.uploadDir+"/"+*res.DeploymentPhoto1Filename)
	assert.FileExists(t, env.uploadDir+"/"+*res.DeploymentPhoto2Filename)
	assert.NotEqual(t, *res.DeploymentPhoto1Filename, *res.DeploymentPhoto2Filename)

	_, err = env.deployment.Deploy(ctx, env.actor(env.se), req.ID, deployDTO("SN-2"))
	assert.ErrorIs(t, err, ErrStageMismatch)
}

func TestDeployRejectsNonImagePhoto(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()
	req := env.submit(t, "9876543210")
	env.approveFully(t, req.ID)

	for name, photo := range map[string]string{
		"text":                 "data:image/png;base64,aGVsbG8=",
		"jpeg declared as png": "data:image/png;base64,/9j/4AAQSkZJRgABAQ==",
	} {
		t.Run(name, func(t *testing.T) {
			bad := deployDTO("SN-1")
			bad.Photo1 = photo
			_, err := env.deployment.Deploy(ctx, env.actor(env.se), req.ID, bad)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	assert.Equal(t, model.StatusApproved, env.status(t, req.ID))
	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the request photo is stored")

	res, err := env.deployment.Deploy(ctx, env.actor(env.se), req.ID, deployDTO("SN-1"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeployed, res.Status)
}

func TestDeployDuplicateSerial(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	ctx := context.Background()

	first := env.submit(t, "9000000001")
	second := env.submit(t, "9000000002")
	env.approveFully(t, first.ID)
	env.approveFully(t, second.ID)

	_, err := env.deployment.Deploy(ctx, env.actor(env.se), first.ID, deployDTO("SN-42"))
	require.NoError(t, err)

	before, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)

	_, err = env.deployment.Deploy(ctx, env.actor(env.admin), second.ID, deployDTO("SN-42"))
	assert.ErrorIs(t, err, ErrConflict)

	var row model.AssetRequest
	require.NoError(t, env.db.First(&row, second.ID).Error)
	assert.Equal(t, model.StatusApproved, row.Status)
	assert.Nil(t, row.DeployedSerialNo)
	assert.Nil(t, row.DeploymentPhoto1Filename)
	assert.Nil(t, row.DeployedByID)

	after, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "photos of the failed deployment are removed")
}

func TestConcurrentDeploysWithSameSerial(t *testing.T) {
	env := newTestEnv(t, policy.Options{})

	ids := []uint{env.submit(t, "9000000001").ID, env.submit(t, "9000000002").ID}
	for _, id := range ids {
		env.approveFully(t, id)
	}

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			_, errs[i] = env.deployment.Deploy(context.Background(), env.actor(env.se), id, deployDTO("SN-RACE"))
		}(i, id)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	var deployed int64
	require.NoError(t, env.db.Model(&model.AssetRequest{}).Where("deployed_serial_no = ?", "SN-RACE").Count(&deployed).Error)
	assert.Equal(t, int64(1), deployed)
}

func TestConcurrentDeploysOfSameRequest(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	req := env.submit(t, "9000000001")
	env.approveFully(t, req.ID)

	serials := []string{"SN-A", "SN-B", "SN-C"}
	errs := make([]error, len(serials))
	var wg sync.WaitGroup
	for i, serial := range serials {
		wg.Add(1)
		go func(i int, serial string) {
			defer wg.Done()
			_, errs[i] = env.deployment.Deploy(context.Background(), env.actor(env.se), req.ID, deployDTO(serial))
		}(i, serial)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrStageMismatch)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, model.StatusDeployed, env.status(t, req.ID))
}

func TestConcurrentApprovalsApplyOnce(t *testing.T) {
	env := newTestEnv(t, policy.Options{})
	req := env.submit(t, "9000000001")

	actors := []policy.Actor{env.actor(env.bm), env.actor(env.admin)}
	errs := make([]error, len(actors))
	var wg sync.WaitGroup
	for i, a := range actors {
		wg.Add(1)
		go func(i int, a policy.Actor) {
			defer wg.Done()
			_, errs[i] = env.approvals.Reject(context.Background(), a, req.ID, RejectRequestDTO{Remarks: "no"})
		}(i, a)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrStageMismatch)
	}
	assert.Equal(t, 1, ok)

	var logs int64
	require.NoError(t, env.db.Model(&model.AuditLog{}).Where("action = ?", model.ActionRejectRequest).Count(&logs).Error)
	assert.Equal(t, int64(1), logs)
}
