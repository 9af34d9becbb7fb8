package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"seohub/internal/config"
	"seohub/internal/db"
	"seohub/internal/domain"
	"seohub/internal/engine"
	"seohub/internal/migrate"
	"seohub/internal/notify"
	"seohub/internal/repo"
	"seohub/internal/webhook"
)

// recorder captures enqueued notifications instead of pushing to Redis.
type recorder struct {
	jobs []notify.EmailJob
}

func (r *recorder) Enqueue(_ context.Context, job notify.EmailJob) error {
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recorder) kinds() []string {
	var out []string
	for _, j := range r.jobs {
		out = append(out, j.Kind)
	}
	return out
}

type testEnv struct {
	Engine engine.Engine
	Sent   *recorder
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sent := &recorder{}
	eng := engine.New(conn, config.Default(), sent, nil)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	env := testEnv{Engine: eng, Sent: sent, Ctx: context.Background()}
	seedTenant(t, env)
	return env
}

func seedTenant(t *testing.T, env testEnv) {
	t.Helper()
	now := "2026-03-01T00:00:00Z"
	if err := env.Engine.Repo.InsertAgency(env.Ctx, domain.Agency{ID: "agency-1", Name: "Acme SEO", CreatedAt: now}); err != nil {
		t.Fatalf("insert agency: %v", err)
	}
	if err := env.Engine.Repo.InsertDealership(env.Ctx, domain.Dealership{ID: "dealer-1", AgencyID: "agency-1", Name: "Main St Motors", CreatedAt: now}); err != nil {
		t.Fatalf("insert dealership: %v", err)
	}
	dealer := "dealer-1"
	if err := env.Engine.Repo.InsertUser(env.Ctx, domain.User{
		ID: "user-1", AgencyID: "agency-1", DealershipID: &dealer,
		Email: "owner@dealer.example", Role: "dealership_user", CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func seedRequest(t *testing.T, env testEnv, externalID, packageType string) domain.Request {
	t.Helper()
	now := "2026-03-01T00:00:00Z"
	dealer := "dealer-1"
	r := domain.Request{
		ID:           "req-" + externalID,
		UserID:       "user-1",
		DealershipID: &dealer,
		ExternalID:   externalID,
		Title:        "SEO package for " + externalID,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if packageType != "" {
		r.PackageType = &packageType
	}
	if err := env.Engine.Repo.InsertRequest(env.Ctx, r); err != nil {
		t.Fatalf("insert request: %v", err)
	}
	return r
}

func completedPayload(eventID, externalID, taskType string, deliverables string) webhook.Payload {
	p := webhook.Payload{
		EventID:   eventID,
		EventType: webhook.EventTaskCompleted,
		Data: webhook.TaskData{
			ExternalID:     externalID,
			TaskType:       taskType,
			Status:         "completed",
			CompletionDate: "2026-03-01",
		},
	}
	if deliverables != "" {
		p.Data.Deliverables = json.RawMessage(deliverables)
	}
	return p
}

func TestTaskCompletedRecordsDeliverableAndCounter(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-1", "gold")

	p := completedPayload("ev-1", "ext-1", "page",
		`[{"type":"page","title":"Service Specials","url":"https://dealer.example/specials"}]`)
	out, err := env.Engine.HandleWebhook(env.Ctx, p)
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if out.Status != engine.OutcomeProcessed {
		t.Fatalf("expected processed, got %q", out.Status)
	}

	r, err := env.Engine.Repo.GetRequest(env.Ctx, "req-ext-1")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if r.PagesCompleted != 1 {
		t.Fatalf("expected pages_completed=1, got %d", r.PagesCompleted)
	}
	if r.Status != domain.StatusPending {
		t.Fatalf("gold request must not complete after one page, status=%s", r.Status)
	}

	tasks, err := env.Engine.Repo.ListCompletedTasks(env.Ctx, r.ID)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("expected 1 completed task, got %d (%v)", len(tasks), err)
	}
	if tasks[0].Title != "Service Specials" {
		t.Fatalf("expected deliverable title, got %q", tasks[0].Title)
	}
	if tasks[0].URL == nil || *tasks[0].URL != "https://dealer.example/specials" {
		t.Fatalf("expected deliverable url, got %v", tasks[0].URL)
	}

	usage, err := env.Engine.Repo.ListUsage(env.Ctx, repo.ScopeDealership, "dealer-1", "2026-03")
	if err != nil || len(usage) != 1 {
		t.Fatalf("expected 1 usage row, got %d (%v)", len(usage), err)
	}
	if usage[0].UsageKey != domain.UsagePages || usage[0].Count != 1 {
		t.Fatalf("unexpected usage row %+v", usage[0])
	}

	if got := env.Sent.kinds(); len(got) != 1 || got[0] != notify.KindTaskCompleted {
		t.Fatalf("expected one taskCompleted email, got %v", got)
	}
	if env.Sent.jobs[0].To != "owner@dealer.example" {
		t.Fatalf("expected user email recipient, got %q", env.Sent.jobs[0].To)
	}
	if env.Sent.jobs[0].Subject != "Your new page is live" {
		t.Fatalf("expected page subject, got %q", env.Sent.jobs[0].Subject)
	}
}

func TestDuplicateDeliverySkipped(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-1", "gold")

	p := completedPayload("ev-dup", "ext-1", "page", "")
	if out, err := env.Engine.HandleWebhook(env.Ctx, p); err != nil || out.Status != engine.OutcomeProcessed {
		t.Fatalf("first delivery: %v %v", out, err)
	}
	out, err := env.Engine.HandleWebhook(env.Ctx, p)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if out.Status != engine.OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", out.Status)
	}

	r, _ := env.Engine.Repo.GetRequest(env.Ctx, "req-ext-1")
	if r.PagesCompleted != 1 {
		t.Fatalf("duplicate must not re-increment, got %d", r.PagesCompleted)
	}
	tasks, _ := env.Engine.Repo.ListCompletedTasks(env.Ctx, r.ID)
	if len(tasks) != 1 {
		t.Fatalf("duplicate must not re-append, got %d tasks", len(tasks))
	}
	if len(env.Sent.jobs) != 1 {
		t.Fatalf("duplicate must not re-notify, got %d emails", len(env.Sent.jobs))
	}
}

func TestGoldPackageCompletesAtQuota(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-gold", "gold")

	send := func(i int, taskType string) domain.Request {
		t.Helper()
		p := completedPayload(fmt.Sprintf("ev-%s-%d", taskType, i), "ext-gold", taskType, "")
		if out, err := env.Engine.HandleWebhook(env.Ctx, p); err != nil || out.Status != engine.OutcomeProcessed {
			t.Fatalf("%s %d: %v %v", taskType, i, out, err)
		}
		r, err := env.Engine.Repo.GetRequest(env.Ctx, "req-ext-gold")
		if err != nil {
			t.Fatalf("get request: %v", err)
		}
		return r
	}

	for i := 0; i < 4; i++ {
		send(i, "page")
	}
	for i := 0; i < 4; i++ {
		send(i, "blog")
	}
	var r domain.Request
	for i := 0; i < 8; i++ {
		r = send(i, "gbp_post")
		if i < 7 && r.Status == domain.StatusCompleted {
			t.Fatalf("completed too early at gbp_post %d", i)
		}
	}
	if r.Status != domain.StatusCompleted {
		t.Fatalf("expected completed at quota, got %s", r.Status)
	}
	if r.CompletedAt == nil {
		t.Fatalf("expected completed_at set")
	}

	statusChanged := 0
	for _, k := range env.Sent.kinds() {
		if k == notify.KindStatusChanged {
			statusChanged++
		}
	}
	if statusChanged != 1 {
		t.Fatalf("expected exactly one statusChanged email, got %d", statusChanged)
	}

	// A straggler completion after the flip must not re-notify completion.
	p := completedPayload("ev-late", "ext-gold", "improvement", "")
	if out, err := env.Engine.HandleWebhook(env.Ctx, p); err != nil || out.Status != engine.OutcomeProcessed {
		t.Fatalf("late event: %v %v", out, err)
	}
	for _, k := range env.Sent.kinds()[len(env.Sent.kinds())-1:] {
		if k == notify.KindStatusChanged {
			t.Fatalf("straggler must not emit statusChanged")
		}
	}
	r, _ = env.Engine.Repo.GetRequest(env.Ctx, "req-ext-gold")
	if r.ImprovementsCompleted != 1 {
		t.Fatalf("straggler must still count, got %d", r.ImprovementsCompleted)
	}
}

func TestNoPackageCompletesOnFirstEvent(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-adhoc", "")

	p := completedPayload("ev-1", "ext-adhoc", "blog", "")
	out, err := env.Engine.HandleWebhook(env.Ctx, p)
	if err != nil || out.Status != engine.OutcomeProcessed {
		t.Fatalf("handle: %v %v", out, err)
	}
	r, _ := env.Engine.Repo.GetRequest(env.Ctx, "req-ext-adhoc")
	if r.Status != domain.StatusCompleted {
		t.Fatalf("single-deliverable order must complete immediately, got %s", r.Status)
	}
}

func TestUnknownPackageNeverAutoCompletes(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-odd", "diamond")

	for i := 0; i < 20; i++ {
		p := completedPayload(fmt.Sprintf("ev-%d", i), "ext-odd", "page", "")
		if _, err := env.Engine.HandleWebhook(env.Ctx, p); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	r, _ := env.Engine.Repo.GetRequest(env.Ctx, "req-ext-odd")
	if r.Status == domain.StatusCompleted {
		t.Fatalf("unknown package must not auto-complete")
	}
	if r.PagesCompleted != 20 {
		t.Fatalf("counters must still advance, got %d", r.PagesCompleted)
	}
}

func TestMalformedDeliverablesFallBackToTaskType(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-bad", "gold")

	p := completedPayload("ev-1", "ext-bad", "page", `[{"url":"https://x.example"}]`)
	out, err := env.Engine.HandleWebhook(env.Ctx, p)
	if err != nil || out.Status != engine.OutcomeProcessed {
		t.Fatalf("handle: %v %v", out, err)
	}
	r, _ := env.Engine.Repo.GetRequest(env.Ctx, "req-ext-bad")
	if r.PagesCompleted != 1 {
		t.Fatalf("malformed deliverables must not block the counter, got %d", r.PagesCompleted)
	}
	tasks, _ := env.Engine.Repo.ListCompletedTasks(env.Ctx, r.ID)
	if len(tasks) != 1 || tasks[0].Title != "page" || tasks[0].URL != nil {
		t.Fatalf("expected task-type fallback record, got %+v", tasks)
	}
}

func TestUnknownTaskTypeRecordsWithoutCounter(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-video", "gold")

	p := completedPayload("ev-1", "ext-video", "video", `[{"title":"Walkthrough","url":"https://video.example/1"}]`)
	out, err := env.Engine.HandleWebhook(env.Ctx, p)
	if err != nil || out.Status != engine.OutcomeProcessed {
		t.Fatalf("handle: %v %v", out, err)
	}
	r, _ := env.Engine.Repo.GetRequest(env.Ctx, "req-ext-video")
	if r.PagesCompleted+r.BlogsCompleted+r.GBPPostsCompleted+r.ImprovementsCompleted != 0 {
		t.Fatalf("unknown task type must not move counters")
	}
	tasks, _ := env.Engine.Repo.ListCompletedTasks(env.Ctx, r.ID)
	if len(tasks) != 1 || tasks[0].Title != "Walkthrough" {
		t.Fatalf("deliverable must still be recorded, got %+v", tasks)
	}
	usage, _ := env.Engine.Repo.ListUsage(env.Ctx, repo.ScopeDealership, "dealer-1", "")
	if len(usage) != 0 {
		t.Fatalf("unknown task type must not record usage, got %v", usage)
	}
}

func TestCancelMovesPendingToCancelled(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-c", "gold")

	p := webhook.Payload{
		EventID:   "ev-cancel",
		EventType: webhook.EventTaskCancelled,
		Data:      webhook.TaskData{ExternalID: "ext-c", TaskType: "page", Status: "cancelled"},
	}
	out, err := env.Engine.HandleWebhook(env.Ctx, p)
	if err != nil || out.Status != engine.OutcomeProcessed {
		t.Fatalf("handle: %v %v", out, err)
	}
	r, _ := env.Engine.Repo.GetRequest(env.Ctx, "req-ext-c")
	if r.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", r.Status)
	}
	if got := env.Sent.kinds(); len(got) != 1 || got[0] != notify.KindStatusChanged {
		t.Fatalf("expected one statusChanged email, got %v", got)
	}
}

func TestCancelAfterCompletedIsAbsorbed(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-done", "")

	if _, err := env.Engine.HandleWebhook(env.Ctx, completedPayload("ev-1", "ext-done", "page", "")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	before := len(env.Sent.jobs)

	p := webhook.Payload{
		EventID:   "ev-cancel",
		EventType: webhook.EventTaskCancelled,
		Data:      webhook.TaskData{ExternalID: "ext-done", TaskType: "page", Status: "cancelled"},
	}
	out, err := env.Engine.HandleWebhook(env.Ctx, p)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Status != engine.OutcomeIgnored {
		t.Fatalf("expected ignored, got %q", out.Status)
	}
	r, _ := env.Engine.Repo.GetRequest(env.Ctx, "req-ext-done")
	if r.Status != domain.StatusCompleted {
		t.Fatalf("completed is terminal, got %s", r.Status)
	}
	if len(env.Sent.jobs) != before {
		t.Fatalf("absorbed cancellation must not notify")
	}
}

func TestCancelWithStaleSnapshotCannotRegressCompleted(t *testing.T) {
	env := newTestEnv(t)
	snapshot := seedRequest(t, env, "ext-stale", "")

	// A completion commits after the cancel's snapshot was taken, as happens
	// when both deliveries resolve the aggregate before either takes the lock.
	if _, err := env.Engine.HandleWebhook(env.Ctx, completedPayload("ev-1", "ext-stale", "page", "")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	before := len(env.Sent.jobs)

	cancel := webhook.Payload{
		EventID:   "ev-cancel",
		EventType: webhook.EventTaskCancelled,
		Data:      webhook.TaskData{ExternalID: "ext-stale", TaskType: "page", Status: "cancelled"},
	}
	applied, err := env.Engine.HandleTaskCancelled(env.Ctx, snapshot, cancel)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if applied {
		t.Fatalf("stale-snapshot cancellation must be absorbed")
	}
	r, _ := env.Engine.Repo.GetRequest(env.Ctx, snapshot.ID)
	if r.Status != domain.StatusCompleted {
		t.Fatalf("completed request regressed to %s", r.Status)
	}
	if len(env.Sent.jobs) != before {
		t.Fatalf("absorbed cancellation must not notify")
	}
}

func TestCompletionEmailMatchesEventDeliverable(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-mail", "gold")

	first := completedPayload("ev-1", "ext-mail", "page",
		`[{"title":"Spring Tire Event","url":"https://dealer.example/tires"}]`)
	second := completedPayload("ev-2", "ext-mail", "blog",
		`[{"title":"Winter Prep Guide","url":"https://dealer.example/winter"}]`)
	if _, err := env.Engine.HandleWebhook(env.Ctx, first); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := env.Engine.HandleWebhook(env.Ctx, second); err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(env.Sent.jobs) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(env.Sent.jobs))
	}
	if !strings.Contains(env.Sent.jobs[0].Text, "Spring Tire Event") ||
		!strings.Contains(env.Sent.jobs[0].Text, "https://dealer.example/tires") {
		t.Fatalf("first email must carry the first event's deliverable, got %q", env.Sent.jobs[0].Text)
	}
	if !strings.Contains(env.Sent.jobs[1].Text, "Winter Prep Guide") ||
		!strings.Contains(env.Sent.jobs[1].Text, "https://dealer.example/winter") {
		t.Fatalf("second email must carry the second event's deliverable, got %q", env.Sent.jobs[1].Text)
	}
}

func TestOrphanedAndIgnoredOutcomes(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-1", "gold")

	out, err := env.Engine.HandleWebhook(env.Ctx, completedPayload("ev-1", "ext-unknown", "page", ""))
	if err != nil || out.Status != engine.OutcomeOrphaned {
		t.Fatalf("expected orphaned, got %v %v", out, err)
	}

	out, err = env.Engine.HandleWebhook(env.Ctx, completedPayload("ev-2", "   ", "page", ""))
	if err != nil || out.Status != engine.OutcomeIgnored {
		t.Fatalf("expected ignored for blank externalId, got %v %v", out, err)
	}

	p := webhook.Payload{EventID: "ev-3", EventType: "task.paused", Data: webhook.TaskData{ExternalID: "ext-1"}}
	out, err = env.Engine.HandleWebhook(env.Ctx, p)
	if err != nil || out.Status != engine.OutcomeIgnored {
		t.Fatalf("expected ignored for unknown event type, got %v %v", out, err)
	}

	p = webhook.Payload{EventID: "ev-4", EventType: webhook.EventTaskUpdated, Data: webhook.TaskData{ExternalID: "ext-1", Status: "in_progress"}}
	out, err = env.Engine.HandleWebhook(env.Ctx, p)
	if err != nil || out.Status != engine.OutcomeProcessed {
		t.Fatalf("task.updated must be acknowledged, got %v %v", out, err)
	}
	if len(env.Sent.jobs) != 0 {
		t.Fatalf("none of these outcomes should notify, got %d emails", len(env.Sent.jobs))
	}
}

func TestUsageFallsBackToUserScope(t *testing.T) {
	env := newTestEnv(t)
	now := "2026-03-01T00:00:00Z"
	if err := env.Engine.Repo.InsertUser(env.Ctx, domain.User{
		ID: "user-2", AgencyID: "agency-1", Email: "solo@agency.example", Role: "agency_admin", CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	r := domain.Request{
		ID: "req-solo", UserID: "user-2", ExternalID: "ext-solo", Title: "One-off page",
		Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := env.Engine.Repo.InsertRequest(env.Ctx, r); err != nil {
		t.Fatalf("insert request: %v", err)
	}

	if _, err := env.Engine.HandleWebhook(env.Ctx, completedPayload("ev-1", "ext-solo", "page", "")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	usage, err := env.Engine.Repo.ListUsage(env.Ctx, repo.ScopeUser, "user-2", "2026-03")
	if err != nil || len(usage) != 1 || usage[0].Count != 1 {
		t.Fatalf("expected user-scope usage row, got %v (%v)", usage, err)
	}
}

func TestAuditTrailWritten(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-a", "")

	if _, err := env.Engine.HandleWebhook(env.Ctx, completedPayload("ev-1", "ext-a", "page", "")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	events, err := env.Engine.Repo.ListRequestEvents(env.Ctx, "req-ext-a", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var sawTask, sawStatus bool
	for _, e := range events {
		switch e.Type {
		case "task.completed":
			sawTask = true
		case "request.status_changed":
			sawStatus = true
		}
	}
	if !sawTask || !sawStatus {
		t.Fatalf("expected task.completed and request.status_changed audit rows, got %+v", events)
	}
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "ext-race", "gold")

	p := completedPayload("ev-race", "ext-race", "page", "")
	const workers = 8
	results := make(chan string, workers)
	for i := 0; i < workers; i++ {
		go func() {
			out, err := env.Engine.HandleWebhook(env.Ctx, p)
			if err != nil {
				results <- "error"
				return
			}
			results <- out.Status
		}()
	}
	processed := 0
	for i := 0; i < workers; i++ {
		if <-results == engine.OutcomeProcessed {
			processed++
		}
	}
	if processed != 1 {
		t.Fatalf("exactly one delivery must win, got %d", processed)
	}
	r, _ := env.Engine.Repo.GetRequest(env.Ctx, "req-ext-race")
	if r.PagesCompleted != 1 {
		t.Fatalf("racing duplicates must net one increment, got %d", r.PagesCompleted)
	}
}
