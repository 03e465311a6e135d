package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"assetflow/internal/model"
	"assetflow/internal/policy"
	"assetflow/internal/repository"

	"github.com/xuri/excelize/v2"
)

const (
	ExportSheetName   = "DMS Export"
	ExportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ExportHeaders is the DMS pushing format followed by the workflow tracking columns.
var ExportHeaders = []string{
	"Customer Category", "Customer Name", "Customer Code", "Customer Type",
	"Customer Address", "Region", "Sales Office", "pincode",
	"Territory/Cluster", "Contact No 1", "Contact No 2", "Contact No 3",
	"Email Id 1", "Email Id 2", "Primary Contact Person", "Secondary Contact Person",
	"Parent Customer Code", "GST No", "GST State Code", "PAN",
	"Rate Code", "Discount Code", "Remarks", "FSSAI", "BEAT Name",

	"Request ID", "Request Date", "Request Status", "SE (Requester)",
	"Distributor Name", "BM Approver", "BM Approval Type", "BM Security Amount",
	"BM FOC Justification", "RH Approver", "Deployed By", "Deployment Date",
}

type ExportFilter struct {
	StartDate   string // YYYY-MM-DD
	EndDate     string // YYYY-MM-DD, inclusive
	RequesterID *uint
	Status      string
}

type ExportFile struct {
	Filename string
	Rows     int
	Content  *bytes.Buffer
}

type ExportService interface {
	Export(ctx context.Context, actor policy.Actor, f ExportFilter) (*ExportFile, error)
}

type exportService struct {
	requests repository.AssetRequestRepository
	now      func() time.Time
}

func NewExportService(requests repository.AssetRequestRepository) ExportService {
	return &exportService{requests: requests, now: time.Now}
}

func (s *exportService) Export(ctx context.Context, actor policy.Actor, f ExportFilter) (*ExportFile, error) {
	if !actor.Role.Valid() {
		return nil, ErrForbidden
	}

	q := repository.ExportQuery{Status: f.Status}
	if f.StartDate != "" {
		start, err := time.Parse(dateLayout, f.StartDate)
		if err != nil {
			return nil, validationf("start date must be YYYY-MM-DD")
		}
		q.Start = &start
	}
	if f.EndDate != "" {
		end, err := time.Parse(dateLayout, f.EndDate)
		if err != nil {
			return nil, validationf("end date must be YYYY-MM-DD")
		}
		end = end.AddDate(0, 0, 1)
		q.End = &end
	}
	if actor.CanFilterByRequester() {
		q.RequesterID = f.RequesterID
	}

	items, err := s.requests.Export(ctx, policy.Scope(actor), q)
	if err != nil {
		return nil, fmt.Errorf("failed to load requests for export: %w", err)
	}

	buf, err := buildWorkbook(items)
	if err != nil {
		return nil, fmt.Errorf("failed to build export: %w", err)
	}

	return &ExportFile{
		Filename: "hfl_dms_export_" + s.now().Format("20060102_150405") + ".xlsx",
		Rows:     len(items),
		Content:  buf,
	}, nil
}

func buildWorkbook(items []model.AssetRequest) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	index, err := f.NewSheet(ExportSheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, err
	}

	for col, header := range ExportHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(ExportSheetName, cell, header); err != nil {
			return nil, err
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(ExportHeaders))
	if err := f.SetCellStyle(ExportSheetName, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(ExportSheetName, "A", lastCol, 20); err != nil {
		return nil, err
	}

	for i := range items {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := exportRow(&items[i])
		if err := f.SetSheetRow(ExportSheetName, cell, &row); err != nil {
			return nil, err
		}
	}

	return f.WriteToBuffer()
}

func exportRow(r *model.AssetRequest) []interface{} {
	var city, code, distributorName string
	distributorName = "N/A"
	if r.Distributor != nil {
		city = r.Distributor.City
		code = r.Distributor.Code
		distributorName = r.Distributor.Name
	}
	var salesOffice string
	if r.Requester != nil {
		salesOffice = r.Requester.SalesOffice
	}

	securityAmount := interface{}("N/A")
	if r.BMSecurityAmount != nil && *r.BMSecurityAmount != 0 {
		securityAmount = *r.BMSecurityAmount
	}

	return []interface{}{
		r.Category,
		r.RetailerName,
		r.ID,
		"GT",
		strings.TrimSpace(r.RetailerAddress + " " + r.Landmark),
		city,
		salesOffice,
		"", "",
		r.RetailerContact,
		"", "",
		deref(r.RetailerEmail),
		"",
		r.RetailerName,
		"",
		code,
		"", "", "", "", "", "", "", "",

		fmt.Sprintf("#%d", r.ID),
		r.RequestDate.Format(dateLayout),
		r.Status,
		nameOrNA(r.Requester),
		distributorName,
		nameOrNA(r.BMApprover),
		orNA(r.BMApprovalType),
		securityAmount,
		orNA(r.BMFOCJustification),
		nameOrNA(r.RHApprover),
		nameOrNA(r.DeployedBy),
		dateOrNA(r.DeploymentDate),
	}
}

func nameOrNA(u *model.User) string {
	if u == nil {
		return "N/A"
	}
	return u.Name
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

func dateOrNA(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Format(dateLayout)
}
