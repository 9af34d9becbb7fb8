package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Event types delivered by the fulfillment vendor.
const (
	EventTaskCompleted = "task.completed"
	EventTaskUpdated   = "task.updated"
	EventTaskCancelled = "task.cancelled"
)

// Payload is the vendor webhook body. Everything in it is untrusted input.
type Payload struct {
	EventID   string   `json:"eventId,omitempty"`
	EventType string   `json:"eventType"`
	Data      TaskData `json:"data"`
}

type TaskData struct {
	ExternalID     string          `json:"externalId"`
	ClientID       string          `json:"clientId,omitempty"`
	ClientEmail    string          `json:"clientEmail,omitempty"`
	TaskType       string          `json:"taskType"`
	Status         string          `json:"status"`
	CompletionDate string          `json:"completionDate,omitempty"`
	Deliverables   json.RawMessage `json:"deliverables,omitempty"`
}

// Deliverable is a vendor-reported artifact attached to a completed task.
type Deliverable struct {
	Type  string  `json:"type,omitempty"`
	Title string  `json:"title"`
	URL   *string `json:"url,omitempty"`
}

// ParseDeliverables checks the shape of the raw deliverables field before any
// of it is trusted. A missing field or a non-array value counts as valid with
// no deliverables; a malformed element makes the whole list invalid. Callers
// substitute an empty list on failure and keep processing — dropping one
// deliverable's metadata beats dropping the vendor's whole event.
func ParseDeliverables(raw json.RawMessage) ([]Deliverable, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, true
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, true
	}
	out := make([]Deliverable, 0, len(elems))
	for _, elem := range elems {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(elem, &fields); err != nil || fields == nil {
			return nil, false
		}
		titleRaw, ok := fields["title"]
		if !ok {
			return nil, false
		}
		var d Deliverable
		if err := json.Unmarshal(titleRaw, &d.Title); err != nil {
			return nil, false
		}
		if urlRaw, ok := fields["url"]; ok && string(urlRaw) != "null" {
			var url string
			if err := json.Unmarshal(urlRaw, &url); err != nil {
				return nil, false
			}
			d.URL = &url
		}
		if typeRaw, ok := fields["type"]; ok && string(typeRaw) != "null" {
			// type is informational; a wrong-typed value is ignored, not fatal
			_ = json.Unmarshal(typeRaw, &d.Type)
		}
		out = append(out, d)
	}
	return out, true
}

// EventKey derives the durable idempotency key for a delivery: the vendor's
// event id when supplied, else a digest of the fields that identify one
// logical completion.
func (p Payload) EventKey() string {
	if id := strings.TrimSpace(p.EventID); id != "" {
		return "evt:" + id
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		p.Data.ExternalID, p.EventType, p.Data.TaskType, p.Data.CompletionDate,
	}, "|")))
	return "sha:" + hex.EncodeToString(sum[:])
}
