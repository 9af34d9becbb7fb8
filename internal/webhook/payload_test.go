package webhook

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseDeliverablesValid(t *testing.T) {
	raw := json.RawMessage(`[{"type":"page","title":"Service Specials","url":"https://dealer.example/specials"},{"title":"Untitled"}]`)
	got, ok := ParseDeliverables(raw)
	if !ok {
		t.Fatalf("expected valid deliverables")
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deliverables, got %d", len(got))
	}
	if got[0].Title != "Service Specials" || got[0].Type != "page" {
		t.Fatalf("unexpected first deliverable: %+v", got[0])
	}
	if got[0].URL == nil || *got[0].URL != "https://dealer.example/specials" {
		t.Fatalf("unexpected url: %v", got[0].URL)
	}
	if got[1].URL != nil {
		t.Fatalf("expected nil url on second deliverable")
	}
}

func TestParseDeliverablesMissingOrNonArray(t *testing.T) {
	for _, raw := range []string{"", "null", `"not-an-array"`, `42`, `{"title":"x"}`} {
		got, ok := ParseDeliverables(json.RawMessage(raw))
		if !ok {
			t.Fatalf("raw %q: expected valid", raw)
		}
		if len(got) != 0 {
			t.Fatalf("raw %q: expected empty list, got %v", raw, got)
		}
	}
}

func TestParseDeliverablesMalformedElement(t *testing.T) {
	cases := map[string]string{
		"element not object":  `["just-a-string"]`,
		"missing title":       `[{"type":"page","url":"https://x.example"}]`,
		"title wrong type":    `[{"title":123}]`,
		"url wrong type":      `[{"title":"ok","url":17}]`,
		"one bad among goods": `[{"title":"ok"},{"url":"https://x.example"}]`,
	}
	for name, raw := range cases {
		got, ok := ParseDeliverables(json.RawMessage(raw))
		if ok {
			t.Fatalf("%s: expected invalid", name)
		}
		if got != nil {
			t.Fatalf("%s: expected nil list, got %v", name, got)
		}
	}
}

func TestParseDeliverablesLenientTypeField(t *testing.T) {
	got, ok := ParseDeliverables(json.RawMessage(`[{"title":"ok","type":123}]`))
	if !ok || len(got) != 1 {
		t.Fatalf("wrong-typed type field must not invalidate: ok=%v got=%v", ok, got)
	}
	if got[0].Type != "" {
		t.Fatalf("expected empty type, got %q", got[0].Type)
	}
}

func TestEventKeyPrefersVendorEventID(t *testing.T) {
	p := Payload{EventID: "ev-123", EventType: EventTaskCompleted}
	if got := p.EventKey(); got != "evt:ev-123" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestEventKeyDigestIsStable(t *testing.T) {
	p := Payload{
		EventType: EventTaskCompleted,
		Data: TaskData{
			ExternalID:     "ext-1",
			TaskType:       "page",
			CompletionDate: "2026-03-01",
		},
	}
	k1 := p.EventKey()
	k2 := p.EventKey()
	if k1 != k2 {
		t.Fatalf("key not stable: %q vs %q", k1, k2)
	}
	if !strings.HasPrefix(k1, "sha:") {
		t.Fatalf("expected digest key, got %q", k1)
	}
	p.Data.TaskType = "blog"
	if p.EventKey() == k1 {
		t.Fatalf("different task type must produce a different key")
	}
}
