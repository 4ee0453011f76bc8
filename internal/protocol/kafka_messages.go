package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RiskEvent is published when a site's displayed risk level changes
type RiskEvent struct {
	Type       string    `json:"type"` // RISK_ESCALATED, RISK_RECOVERED, RISK_CHANGED
	SiteID     string    `json:"site_id"`
	SiteName   string    `json:"site_name"`
	District   string    `json:"district"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Score      int       `json:"score"`
	Reasons    []string  `json:"reasons"`
	OccurredAt time.Time `json:"occurred_at"`
}

const (
	RiskTypeEscalated = "RISK_ESCALATED"
	RiskTypeRecovered = "RISK_RECOVERED"
	RiskTypeChanged   = "RISK_CHANGED"
)

// ClassifyTransition names a level change. Entering RED escalates and
// leaving RED recovers; anything else is a plain change.
func ClassifyTransition(from, to string) string {
	switch {
	case to == "RED" && from != "RED":
		return RiskTypeEscalated
	case from == "RED" && to != "RED":
		return RiskTypeRecovered
	default:
		return RiskTypeChanged
	}
}

// FieldSampleMessage is a water test submitted by a field worker
type FieldSampleMessage struct {
	SiteID      string    `json:"site_id"`
	Date        string    `json:"date,omitempty"` // YYYY-MM-DD in the site timezone
	PH          *float64  `json:"ph,omitempty"`
	Turbidity   *float64  `json:"turbidity,omitempty"`
	EColi       *bool     `json:"ecoli,omitempty"`
	WorkerID    string    `json:"worker_id,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

var ErrMissingSiteID = errors.New("message has no site_id")

// Validate checks the fields the sample writer relies on.
func (m *FieldSampleMessage) Validate() error {
	if m.SiteID == "" {
		return ErrMissingSiteID
	}
	if m.Date != "" {
		if _, err := time.Parse(time.DateOnly, m.Date); err != nil {
			return fmt.Errorf("invalid date %q", m.Date)
		}
	}
	if m.PH != nil && (*m.PH < 0 || *m.PH > 14) {
		return fmt.Errorf("ph %.2f outside 0-14", *m.PH)
	}
	if m.Turbidity != nil && *m.Turbidity < 0 {
		return fmt.Errorf("negative turbidity %.2f", *m.Turbidity)
	}
	return nil
}

// EncodeRiskEvent encodes a RiskEvent to JSON
func EncodeRiskEvent(event *RiskEvent) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeRiskEvent decodes JSON to RiskEvent
func DecodeRiskEvent(data []byte) (*RiskEvent, error) {
	var event RiskEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// EncodeFieldSample encodes a FieldSampleMessage to JSON
func EncodeFieldSample(msg *FieldSampleMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeFieldSample decodes and validates a FieldSampleMessage
func DecodeFieldSample(data []byte) (*FieldSampleMessage, error) {
	var msg FieldSampleMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
