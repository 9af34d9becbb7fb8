package domain

// Request statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Package tiers.
const (
	PackageSilver   = "silver"
	PackageGold     = "gold"
	PackagePlatinum = "platinum"
)

// Usage keys. One per counted content type; improvements are tracked but never
// gate package completion.
const (
	UsagePages        = "pages"
	UsageBlogs        = "blogs"
	UsageGBPPosts     = "gbp_posts"
	UsageImprovements = "improvements"
)

type Agency struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Dealership struct {
	ID        string `json:"id"`
	AgencyID  string `json:"agency_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID           string  `json:"id"`
	AgencyID     string  `json:"agency_id"`
	DealershipID *string `json:"dealership_id,omitempty"`
	Email        string  `json:"email"`
	Name         string  `json:"name,omitempty"`
	Role         string  `json:"role" enum:"super_admin,agency_admin,dealership_user"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// Request is the work-order aggregate for one SEO package or ad-hoc task order.
// ExternalID is the correlation key the fulfillment vendor echoes back on every
// webhook delivery.
type Request struct {
	ID                    string  `json:"id"`
	UserID                string  `json:"user_id"`
	DealershipID          *string `json:"dealership_id,omitempty"`
	ExternalID            string  `json:"external_id"`
	Title                 string  `json:"title"`
	Type                  string  `json:"type,omitempty"`
	Status                string  `json:"status" enum:"pending,in_progress,completed,cancelled"`
	PackageType           *string `json:"package_type,omitempty" enum:"silver,gold,platinum"`
	PagesCompleted        int     `json:"pages_completed"`
	BlogsCompleted        int     `json:"blogs_completed"`
	GBPPostsCompleted     int     `json:"gbp_posts_completed"`
	ImprovementsCompleted int     `json:"improvements_completed"`
	CompletedAt           *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt             string  `json:"created_at" format:"date-time"`
	UpdatedAt             string  `json:"updated_at" format:"date-time"`
}

// CounterFor returns the request counter value for a usage key.
func (r Request) CounterFor(key string) int {
	switch key {
	case UsagePages:
		return r.PagesCompleted
	case UsageBlogs:
		return r.BlogsCompleted
	case UsageGBPPosts:
		return r.GBPPostsCompleted
	case UsageImprovements:
		return r.ImprovementsCompleted
	}
	return 0
}

// CompletedTask is one vendor-reported deliverable recorded against a request.
// Rows are append-only; the pipeline never updates or removes them.
type CompletedTask struct {
	ID          int64   `json:"id"`
	RequestID   string  `json:"request_id"`
	Title       string  `json:"title"`
	Type        string  `json:"type"`
	URL         *string `json:"url,omitempty"`
	CompletedAt string  `json:"completed_at" format:"date-time"`
}

// UsageCounter is a best-effort monthly tally at dealership or user scope.
type UsageCounter struct {
	ScopeKind string `json:"scope_kind" enum:"dealership,user"`
	ScopeID   string `json:"scope_id"`
	UsageKey  string `json:"usage_key"`
	Period    string `json:"period"`
	Count     int    `json:"count"`
}

// ProcessedWebhookEvent is the durable idempotency record for one vendor delivery.
type ProcessedWebhookEvent struct {
	ID        int64  `json:"id"`
	RequestID string `json:"request_id"`
	EventKey  string `json:"event_key"`
	EventType string `json:"event_type"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is one row of the append-only audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RequestID  string `json:"request_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
