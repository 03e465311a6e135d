package model

import (
	"strings"
	"time"
)

// Request lifecycle states
const (
	StatusPendingBM     = "Pending BM Approval"
	StatusPendingRH     = "Pending RH Approval"
	StatusApproved      = "Approved"
	StatusDeployed      = "Deployed"
	StatusRejectedBM    = "Rejected by BM"
	StatusRejectedRH    = "Rejected by RH"
	StatusRejectedAdmin = "Rejected by Admin"
)

// BM approval types
const (
	ApprovalTypeSecurity      = "With Security"
	ApprovalTypeFreeOfCost    = "Free of Cost"
	ApprovalTypeAdminOverride = "Admin Override"
)

// Statuses lists every state a request can be in.
var Statuses = []string{
	StatusPendingBM,
	StatusPendingRH,
	StatusApproved,
	StatusDeployed,
	StatusRejectedBM,
	StatusRejectedRH,
	StatusRejectedAdmin,
}

var AssetModels = []string{"300 GT", "400 GT", "500 HT", "500 GT", "Glycol (PC)"}

var Categories = []string{
	"Hotel, Restaurant & Coffee Shop",
	"Bakery",
	"Kirana Store",
	"MRF",
	"General Store",
	"School/Collage Canteen",
	"Office Canteen",
	"Convience Store",
	"Ecom/Qcom",
	"Sweet Shop",
	"Stationary Shop",
	"PC",
	"HDC",
	"Others",
}

// AssetRequest is a request to place an asset at a retailer, tracked from submission to deployment.
type AssetRequest struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	RequesterID   uint         `gorm:"not null;index" json:"requester_id"`
	Requester     *User        `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	DistributorID uint         `gorm:"not null;index" json:"distributor_id"`
	Distributor   *Distributor `gorm:"foreignKey:DistributorID" json:"distributor,omitempty"`
	RequestDate   time.Time    `gorm:"not null;index" json:"request_date"`
	Status        string       `gorm:"type:varchar(50);not null;index;default:'Pending BM Approval'" json:"status"`

	// Asset and retailer details
	AssetModel          string     `gorm:"type:varchar(50);not null" json:"asset_model"`
	Category            string     `gorm:"type:varchar(100);not null" json:"category"`
	PlacementDate       *time.Time `json:"placement_date"`
	Latitude            float64    `gorm:"not null" json:"latitude"`
	Longitude           float64    `gorm:"not null" json:"longitude"`
	RetailerName        string     `gorm:"type:varchar(150);not null" json:"retailer_name"`
	RetailerContact     string     `gorm:"type:varchar(10);uniqueIndex;not null" json:"retailer_contact"`
	AreaTown            string     `gorm:"type:varchar(100);not null" json:"area_town"`
	Landmark            string     `gorm:"type:varchar(200)" json:"landmark"`
	RetailerAddress     string     `gorm:"type:text" json:"retailer_address"`
	RetailerEmail       *string    `gorm:"type:varchar(120)" json:"retailer_email"`
	SellingIceCream     string     `gorm:"type:varchar(3);not null" json:"selling_ice_cream"`
	MonthlySales        *string    `gorm:"type:varchar(50)" json:"monthly_sales"`
	IceCreamBrands      *string    `gorm:"type:varchar(200)" json:"ice_cream_brands"`
	CompetitorAssets    *string    `gorm:"type:varchar(200)" json:"competitor_assets"`
	SignageAvailability *string    `gorm:"type:varchar(3)" json:"signage_availability"`
	WillingForSignage   string     `gorm:"type:varchar(3);not null" json:"willing_for_signage"`
	PhotoFilename       string     `gorm:"type:varchar(255)" json:"photo_filename"`

	// Approval
	BMApproverID       *uint   `gorm:"column:bm_approver_id;index" json:"bm_approver_id"`
	BMApprover         *User   `gorm:"foreignKey:BMApproverID" json:"bm_approver,omitempty"`
	BMRemarks          *string `gorm:"column:bm_remarks;type:text" json:"bm_remarks"`
	BMApprovalType     *string `gorm:"column:bm_approval_type;type:varchar(20)" json:"bm_approval_type"`
	BMSecurityAmount   *int    `gorm:"column:bm_security_amount" json:"bm_security_amount"`
	BMFOCJustification *string `gorm:"column:bm_foc_justification;type:text" json:"bm_foc_justification"`
	RHApproverID       *uint   `gorm:"column:rh_approver_id;index" json:"rh_approver_id"`
	RHApprover         *User   `gorm:"foreignKey:RHApproverID" json:"rh_approver,omitempty"`
	RHRemarks          *string `gorm:"column:rh_remarks;type:text" json:"rh_remarks"`

	// Deployment
	DeployedMake             *string    `gorm:"type:varchar(100)" json:"deployed_make"`
	DeployedSerialNo         *string    `gorm:"type:varchar(100);uniqueIndex" json:"deployed_serial_no"`
	DeploymentPhoto1Filename *string    `gorm:"column:deployment_photo1_filename;type:varchar(255)" json:"deployment_photo1_filename"`
	DeploymentPhoto2Filename *string    `gorm:"column:deployment_photo2_filename;type:varchar(255)" json:"deployment_photo2_filename"`
	DeploymentDate           *time.Time `json:"deployment_date"`
	DeployedByID             *uint      `gorm:"index" json:"deployed_by_id"`
	DeployedBy               *User      `gorm:"foreignKey:DeployedByID" json:"deployed_by,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPending reports whether the request still waits on an approver.
func (r *AssetRequest) IsPending() bool {
	return r.Status == StatusPendingBM || r.Status == StatusPendingRH
}

// IsRejected reports whether the request ended on any rejection.
func (r *AssetRequest) IsRejected() bool {
	return strings.HasPrefix(r.Status, "Rejected")
}

func IsValidStatus(status string) bool {
	for _, s := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func IsValidAssetModel(v string) bool { return contains(AssetModels, v) }

func IsValidCategory(v string) bool { return contains(Categories, v) }
