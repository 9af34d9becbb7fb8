package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"seohub/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const requestColumns = `id,user_id,dealership_id,external_id,title,COALESCE(type,''),status,package_type,
pages_completed,blogs_completed,gbp_posts_completed,improvements_completed,completed_at,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (domain.Request, error) {
	var r domain.Request
	var dealership, pkg, completedAt sql.NullString
	err := row.Scan(&r.ID, &r.UserID, &dealership, &r.ExternalID, &r.Title, &r.Type, &r.Status, &pkg,
		&r.PagesCompleted, &r.BlogsCompleted, &r.GBPPostsCompleted, &r.ImprovementsCompleted,
		&completedAt, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if dealership.Valid {
		r.DealershipID = &dealership.String
	}
	if pkg.Valid {
		r.PackageType = &pkg.String
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.String
	}
	return r, nil
}

func (r Repo) InsertRequest(ctx context.Context, req domain.Request) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO requests(id,user_id,dealership_id,external_id,title,type,status,package_type,
pages_completed,blogs_completed,gbp_posts_completed,improvements_completed,completed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.UserID, nullableStringPtr(req.DealershipID), req.ExternalID, req.Title, nullable(req.Type),
		req.Status, nullableStringPtr(req.PackageType),
		req.PagesCompleted, req.BlogsCompleted, req.GBPPostsCompleted, req.ImprovementsCompleted,
		nullableStringPtr(req.CompletedAt), req.CreatedAt, req.UpdatedAt)
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

// FindRequestByExternalID resolves the aggregate targeted by a vendor webhook.
func (r Repo) FindRequestByExternalID(ctx context.Context, externalID string) (domain.Request, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE external_id=?`, externalID))
}

// GetRequestTx re-reads the aggregate inside an open transaction, so completion
// policy sees counters after the current event's increment.
func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

func counterColumn(usageKey string) (string, error) {
	switch usageKey {
	case domain.UsagePages:
		return "pages_completed", nil
	case domain.UsageBlogs:
		return "blogs_completed", nil
	case domain.UsageGBPPosts:
		return "gbp_posts_completed", nil
	case domain.UsageImprovements:
		return "improvements_completed", nil
	}
	return "", fmt.Errorf("unknown usage key %q", usageKey)
}

// IncrementRequestCounterTx bumps one request counter in place. The increment is
// a single UPDATE, never a read-modify-write.
func (r Repo) IncrementRequestCounterTx(ctx context.Context, tx *sql.Tx, requestID, usageKey, updatedAt string) error {
	col, err := counterColumn(usageKey)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE requests SET %s=%s+1, updated_at=? WHERE id=?`, col, col), updatedAt, requestID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetRequestStatusTx(ctx context.Context, tx *sql.Tx, id, status string, completedAt *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET status=?, completed_at=COALESCE(?,completed_at), updated_at=? WHERE id=?`,
		status, nullableStringPtr(completedAt), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListRequests(ctx context.Context, status string, limit int) ([]domain.Request, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if status != "" {
		clauses = []string{"status=?"}
		args = append(args, status)
	}
	query := `SELECT ` + requestColumns + ` FROM requests WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// AppendCompletedTaskTx appends one deliverable record. Inserting into a child
// table is the atomic-append primitive; the sequence only grows.
func (r Repo) AppendCompletedTaskTx(ctx context.Context, tx *sql.Tx, ct domain.CompletedTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO completed_tasks(request_id,title,type,url,completed_at) VALUES (?,?,?,?,?)`,
		ct.RequestID, ct.Title, ct.Type, nullableStringPtr(ct.URL), ct.CompletedAt)
	return err
}

func (r Repo) ListCompletedTasks(ctx context.Context, requestID string) ([]domain.CompletedTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,request_id,title,type,url,completed_at FROM completed_tasks WHERE request_id=? ORDER BY id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CompletedTask
	for rows.Next() {
		var ct domain.CompletedTask
		var url sql.NullString
		if err := rows.Scan(&ct.ID, &ct.RequestID, &ct.Title, &ct.Type, &url, &ct.CompletedAt); err != nil {
			return nil, err
		}
		if url.Valid {
			ct.URL = &url.String
		}
		res = append(res, ct)
	}
	return res, rows.Err()
}

// MarkEventProcessedTx inserts the idempotency record for a vendor delivery.
// It returns false when the event key was already recorded, meaning a duplicate
// delivery that must not be applied again.
func (r Repo) MarkEventProcessedTx(ctx context.Context, tx *sql.Tx, requestID, eventKey, eventType, createdAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO processed_webhook_events(request_id,event_key,event_type,created_at) VALUES (?,?,?,?)
ON CONFLICT(event_key) DO NOTHING`, requestID, eventKey, eventType, createdAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) ListRequestEvents(ctx context.Context, requestID string, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(request_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE request_id=? ORDER BY id DESC`
	args := []any{requestID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RequestID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) InsertAgency(ctx context.Context, a domain.Agency) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agencies(id,name,created_at) VALUES (?,?,?)`, a.ID, a.Name, a.CreatedAt)
	return err
}

func (r Repo) InsertDealership(ctx context.Context, d domain.Dealership) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO dealerships(id,agency_id,name,created_at) VALUES (?,?,?,?)`, d.ID, d.AgencyID, d.Name, d.CreatedAt)
	return err
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,agency_id,dealership_id,email,name,role,created_at) VALUES (?,?,?,?,?,?,?)`,
		u.ID, u.AgencyID, nullableStringPtr(u.DealershipID), u.Email, nullable(u.Name), u.Role, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var dealership, name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,agency_id,dealership_id,email,name,role,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.AgencyID, &dealership, &u.Email, &name, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if dealership.Valid {
		u.DealershipID = &dealership.String
	}
	if name.Valid {
		u.Name = name.String
	}
	return u, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
