// Package notify delivers workflow events out of band.
//
// Services publish an Event after their transaction commits. A Dispatcher
// worker drains the queue, mails the recipient (if any) and pushes the event
// to live dashboards. Nothing in the request path waits on delivery.
package notify

import (
	"encoding/json"
	"time"
)

type EventKind string

const (
	EventRequestCreated EventKind = "request.created"
	EventBMApproved     EventKind = "request.bm_approved"
	EventApproved       EventKind = "request.approved"
	EventRejected       EventKind = "request.rejected"
	EventDeployed       EventKind = "request.deployed"
)

// Recipient is who gets the email for an event.
type Recipient struct {
	UserID uint   `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// Event is a snapshot of a request at the moment a transition committed.
// It carries everything needed to render the message, so the worker never reads the database.
type Event struct {
	ID              string     `json:"id"`
	Kind            EventKind  `json:"kind"`
	RequestID       uint       `json:"request_id"`
	Status          string     `json:"status"`
	RetailerName    string     `json:"retailer_name"`
	AreaTown        string     `json:"area_town"`
	AssetModel      string     `json:"asset_model"`
	DistributorName string     `json:"distributor_name"`
	RequesterName   string     `json:"requester_name"`
	ActorName       string     `json:"actor_name"`
	Remarks         string     `json:"remarks,omitempty"`
	Recipient       *Recipient `json:"recipient,omitempty"`
	// Audience are the user ids allowed to receive the live update. Admins always receive it.
	Audience   []uint    `json:"audience"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher is the only dependency services have on notification delivery.
type Publisher interface {
	Publish(ev Event)
}

// Broadcaster pushes payloads to connected live clients.
type Broadcaster interface {
	Broadcast(audience []uint, payload []byte)
}

// LiveMessage is the websocket payload for an event. Recipient details stay server side.
type LiveMessage struct {
	Type       EventKind `json:"type"`
	RequestID  uint      `json:"request_id"`
	Status     string    `json:"status"`
	Retailer   string    `json:"retailer"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e Event) liveJSON() ([]byte, error) {
	return json.Marshal(LiveMessage{
		Type:       e.Kind,
		RequestID:  e.RequestID,
		Status:     e.Status,
		Retailer:   e.RetailerName,
		Actor:      e.ActorName,
		OccurredAt: e.OccurredAt,
	})
}
