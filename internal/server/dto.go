package server

import (
	"seohub/internal/domain"
)

// Response payloads

type CompletedTaskResponse struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Type        string  `json:"type"`
	URL         *string `json:"url,omitempty"`
	CompletedAt string  `json:"completed_at" format:"date-time"`
}

type RequestResponse struct {
	ID                    string                  `json:"id"`
	UserID                string                  `json:"user_id"`
	DealershipID          *string                 `json:"dealership_id,omitempty"`
	ExternalID            string                  `json:"external_id"`
	Title                 string                  `json:"title"`
	Type                  string                  `json:"type,omitempty"`
	Status                string                  `json:"status" enum:"pending,in_progress,completed,cancelled"`
	PackageType           *string                 `json:"package_type,omitempty" enum:"silver,gold,platinum"`
	PagesCompleted        int                     `json:"pages_completed"`
	BlogsCompleted        int                     `json:"blogs_completed"`
	GBPPostsCompleted     int                     `json:"gbp_posts_completed"`
	ImprovementsCompleted int                     `json:"improvements_completed"`
	CompletedAt           *string                 `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt             string                  `json:"created_at" format:"date-time"`
	UpdatedAt             string                  `json:"updated_at" format:"date-time"`
	CompletedTasks        []CompletedTaskResponse `json:"completed_tasks,omitempty"`
}

type EventResponse struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

type UsageCounterResponse struct {
	ScopeKind string `json:"scope_kind" enum:"dealership,user"`
	ScopeID   string `json:"scope_id"`
	UsageKey  string `json:"usage_key"`
	Period    string `json:"period"`
	Count     int    `json:"count"`
}

func requestResponse(r domain.Request, tasks []domain.CompletedTask) RequestResponse {
	res := RequestResponse{
		ID:                    r.ID,
		UserID:                r.UserID,
		DealershipID:          r.DealershipID,
		ExternalID:            r.ExternalID,
		Title:                 r.Title,
		Type:                  r.Type,
		Status:                r.Status,
		PackageType:           r.PackageType,
		PagesCompleted:        r.PagesCompleted,
		BlogsCompleted:        r.BlogsCompleted,
		GBPPostsCompleted:     r.GBPPostsCompleted,
		ImprovementsCompleted: r.ImprovementsCompleted,
		CompletedAt:           r.CompletedAt,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	for _, t := range tasks {
		res.CompletedTasks = append(res.CompletedTasks, CompletedTaskResponse{
			ID:          t.ID,
			Title:       t.Title,
			Type:        t.Type,
			URL:         t.URL,
			CompletedAt: t.CompletedAt,
		})
	}
	return res
}

func mapRequests(items []domain.Request) []RequestResponse {
	res := make([]RequestResponse, 0, len(items))
	for _, r := range items {
		res = append(res, requestResponse(r, nil))
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, EventResponse{
			ID:        e.ID,
			TS:        e.TS,
			Type:      e.Type,
			RequestID: e.RequestID,
			ActorID:   e.ActorID,
			Payload:   e.Payload,
		})
	}
	return res
}

func mapUsage(items []domain.UsageCounter) []UsageCounterResponse {
	res := make([]UsageCounterResponse, 0, len(items))
	for _, c := range items {
		res = append(res, UsageCounterResponse{
			ScopeKind: c.ScopeKind,
			ScopeID:   c.ScopeID,
			UsageKey:  c.UsageKey,
			Period:    c.Period,
			Count:     c.Count,
		})
	}
	return res
}
