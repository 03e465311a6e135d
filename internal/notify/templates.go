package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

var subjects = map[EventKind]string{
	EventRequestCreated: "New Asset Request #%d for Approval",
	EventBMApproved:     "Asset Request #%d Requires Your Approval",
	EventApproved:       "Asset Request #%d Approved",
	EventRejected:       "Asset Request #%d Rejected",
	EventDeployed:       "Asset Request #%d Deployed",
}

var bodies = template.Must(template.New("notify").Parse(`
{{define "request.created"}}<p>Hello {{.Recipient.Name}},</p>
<p>{{.RequesterName}} submitted asset request #{{.RequestID}} for {{.RetailerName}} ({{.AreaTown}}) under {{.DistributorName}}.</p>
<p>Asset model: {{.AssetModel}}</p>
<p>The request is waiting for your approval.</p>{{end}}
{{define "request.bm_approved"}}<p>Hello {{.Recipient.Name}},</p>
<p>Asset request #{{.RequestID}} for {{.RetailerName}} ({{.DistributorName}}) was approved by {{.ActorName}} and now needs your approval.</p>{{end}}
{{define "request.approved"}}<p>Hello {{.Recipient.Name}},</p>
<p>Your asset request #{{.RequestID}} for {{.RetailerName}} has been approved by {{.ActorName}}.</p>
{{if .Remarks}}<p>Remarks: {{.Remarks}}</p>{{end}}{{end}}
{{define "request.rejected"}}<p>Hello {{.Recipient.Name}},</p>
<p>Your asset request #{{.RequestID}} for {{.RetailerName}} was rejected by {{.ActorName}} ({{.Status}}).</p>
<p>Remarks: {{.Remarks}}</p>{{end}}
{{define "request.deployed"}}<p>Hello {{.Recipient.Name}},</p>
<p>Asset request #{{.RequestID}} for {{.RetailerName}} has been marked as deployed by {{.ActorName}}.</p>{{end}}
`))

// Render builds the email for an event with a recipient.
func Render(ev Event) (Message, error) {
	if ev.Recipient == nil {
		return Message{}, fmt.Errorf("event %s has no recipient", ev.Kind)
	}
	subject, ok := subjects[ev.Kind]
	if !ok {
		return Message{}, fmt.Errorf("no template for event %s", ev.Kind)
	}

	var buf bytes.Buffer
	if err := bodies.ExecuteTemplate(&buf, string(ev.Kind), ev); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", ev.Kind, err)
	}

	return Message{
		To:      ev.Recipient.Email,
		Subject: fmt.Sprintf(subject, ev.RequestID),
		HTML:    buf.String(),
	}, nil
}
