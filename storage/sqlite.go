package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"brokerage/models"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLiteStore backs local development and tests. The refresh lock is held in
// process since SQLite has no advisory locks.
type SQLiteStore struct {
	db          *sql.DB
	refreshLock sync.Mutex
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(sqliteSchema)
	return err
}

// =============================================================================
// Refresh lock
// =============================================================================

func (s *SQLiteStore) AcquireRefreshLock(ctx context.Context) (func(), bool, error) {
	if !s.refreshLock.TryLock() {
		return nil, false, nil
	}
	return s.refreshLock.Unlock, true, nil
}

// =============================================================================
// Property cache
// =============================================================================

func (s *SQLiteStore) ExistingHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT listing_id, content_hash FROM property_cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

func (s *SQLiteStore) UpsertProperties(ctx context.Context, props []models.CachedProperty) error {
	if len(props) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO property_cache (listing_id, property_data, status, content_hash, last_updated, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			property_data = excluded.property_data,
			status = excluded.status,
			content_hash = excluded.content_hash,
			last_updated = excluded.last_updated,
			is_active = excluded.is_active`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range props {
		if _, err := stmt.ExecContext(ctx, p.ListingID, string(p.PropertyData), p.Status, p.ContentHash,
			p.LastUpdated.UTC(), p.IsActive); err != nil {
			return fmt.Errorf("upsert %s: %w", p.ListingID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) TouchProperties(ctx context.Context, listingIDs []string, at time.Time) error {
	if len(listingIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE property_cache SET last_updated = ?, is_active = TRUE WHERE listing_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range listingIDs {
		if _, err := stmt.ExecContext(ctx, at.UTC(), id); err != nil {
			return fmt.Errorf("touch %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// DeactivateMissing marks active rows whose key is not in keep as inactive.
func (s *SQLiteStore) DeactivateMissing(ctx context.Context, keep []string) (int, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT listing_id FROM property_cache WHERE is_active = TRUE`)
	if err != nil {
		return 0, err
	}
	var vanished []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		if !keepSet[id] {
			vanished = append(vanished, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range vanished {
		if _, err := tx.ExecContext(ctx, `UPDATE property_cache SET is_active = FALSE WHERE listing_id = ?`, id); err != nil {
			return 0, err
		}
	}

	return len(vanished), tx.Commit()
}

func (s *SQLiteStore) ClearProperties(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM property_cache`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) InvalidateProperties(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE property_cache SET last_updated = ?`, time.Unix(0, 0).UTC())
	return err
}

func (s *SQLiteStore) ListProperties(ctx context.Context, f models.PropertyFilter) ([]models.CachedProperty, error) {
	var where []string
	var args []any
	if !f.IncludeInactive {
		where = append(where, "is_active = TRUE")
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT listing_id, property_data, status, content_hash, last_updated, is_active FROM property_cache`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_updated DESC, listing_id"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []models.CachedProperty
	for rows.Next() {
		p, err := scanSQLiteProperty(rows)
		if err != nil {
			return nil, err
		}
		props = append(props, *p)
	}
	return props, rows.Err()
}

func (s *SQLiteStore) GetProperty(ctx context.Context, listingID string) (*models.CachedProperty, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT listing_id, property_data, status, content_hash, last_updated, is_active
		FROM property_cache WHERE listing_id = ?`, listingID)

	p, err := scanSQLiteProperty(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProperty(row rowScanner) (*models.CachedProperty, error) {
	var p models.CachedProperty
	var data string
	if err := row.Scan(&p.ListingID, &data, &p.Status, &p.ContentHash, &p.LastUpdated, &p.IsActive); err != nil {
		return nil, err
	}
	p.PropertyData = []byte(data)
	return &p, nil
}

func (s *SQLiteStore) CacheStats(ctx context.Context) (*models.CacheStats, error) {
	var stats models.CacheStats
	var newest, oldest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_active AND status = 'active' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_active AND status = 'under_contract' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN NOT is_active THEN 1 ELSE 0 END), 0),
			MAX(CASE WHEN is_active THEN last_updated END),
			MIN(CASE WHEN is_active THEN last_updated END)
		FROM property_cache`).Scan(&stats.Total, &stats.Active, &stats.UnderContract, &stats.Inactive, &newest, &oldest)
	if err != nil {
		return nil, err
	}
	stats.Newest = parseSQLiteTime(newest)
	stats.Oldest = parseSQLiteTime(oldest)
	return &stats, nil
}

// parseSQLiteTime handles aggregates, which come back as text without the
// column's DATETIME affinity.
func parseSQLiteTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := strings.TrimSuffix(ns.String, "Z")
	for _, format := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(format, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// =============================================================================
// Refresh runs
// =============================================================================

func (s *SQLiteStore) CreateRefreshRun(ctx context.Context, run *models.RefreshRun) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_runs (region, trigger_source, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.Region, run.Trigger, run.StartedAt.UTC(), run.Status)
	if err != nil {
		return err
	}
	run.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) FinishRefreshRun(ctx context.Context, run *models.RefreshRun) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_runs SET finished_at = ?, status = ?, pages = ?, fetched = ?, inserted = ?,
			updated = ?, unchanged = ?, deactivated = ?, error = ?
		WHERE id = ?`,
		finished, run.Status, run.Pages, run.Fetched, run.Inserted,
		run.Updated, run.Unchanged, run.Deactivated, run.Error, run.ID)
	return err
}

func (s *SQLiteStore) LatestRefreshRun(ctx context.Context) (*models.RefreshRun, error) {
	var run models.RefreshRun
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, region, trigger_source, started_at, finished_at, status, pages, fetched,
			inserted, updated, unchanged, deactivated, error
		FROM refresh_runs ORDER BY started_at DESC, id DESC LIMIT 1`).Scan(
		&run.ID, &run.Region, &run.Trigger, &run.StartedAt, &finished, &run.Status, &run.Pages, &run.Fetched,
		&run.Inserted, &run.Updated, &run.Unchanged, &run.Deactivated, &run.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

// =============================================================================
// Agents
// =============================================================================

const sqliteAgentColumns = `id, slug, name, title, email, phone, bio, photo_url, license_number,
	display_order, active, created_at, updated_at`

func scanSQLiteAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.Slug, &a.Name, &a.Title, &a.Email, &a.Phone, &a.Bio, &a.PhotoURL, &a.LicenseNo,
		&a.DisplayOrder, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context, includeInactive bool) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteAgentColumns+` FROM agents
		WHERE active = TRUE OR ?
		ORDER BY display_order, name`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanSQLiteAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	a, err := scanSQLiteAgent(s.db.QueryRowContext(ctx, `SELECT `+sqliteAgentColumns+` FROM agents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStore) GetAgentBySlug(ctx context.Context, slug string) (*models.Agent, error) {
	a, err := scanSQLiteAgent(s.db.QueryRowContext(ctx, `SELECT `+sqliteAgentColumns+` FROM agents WHERE slug = ?`, slug))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStore) CreateAgent(ctx context.Context, a *models.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (`+sqliteAgentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Slug, a.Name, a.Title, a.Email, a.Phone, a.Bio, a.PhotoURL, a.LicenseNo,
		a.DisplayOrder, a.Active, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	return translate(err)
}

func (s *SQLiteStore) UpdateAgent(ctx context.Context, a *models.Agent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET slug = ?, name = ?, title = ?, email = ?, phone = ?, bio = ?, photo_url = ?,
			license_number = ?, display_order = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		a.Slug, a.Name, a.Title, a.Email, a.Phone, a.Bio, a.PhotoURL,
		a.LicenseNo, a.DisplayOrder, a.Active, a.UpdatedAt.UTC(), a.ID)
	return affected(res, translate(err))
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	return affected(res, err)
}

// =============================================================================
// Office staff
// =============================================================================

const sqliteStaffColumns = `id, slug, name, title, email, phone, bio, photo_url,
	display_order, active, created_at, updated_at`

func scanSQLiteStaff(row rowScanner) (*models.OfficeStaff, error) {
	var m models.OfficeStaff
	err := row.Scan(&m.ID, &m.Slug, &m.Name, &m.Title, &m.Email, &m.Phone, &m.Bio, &m.PhotoURL,
		&m.DisplayOrder, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) ListStaff(ctx context.Context, includeInactive bool) ([]models.OfficeStaff, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteStaffColumns+` FROM office_staff
		WHERE active = TRUE OR ?
		ORDER BY display_order, name`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var staff []models.OfficeStaff
	for rows.Next() {
		m, err := scanSQLiteStaff(rows)
		if err != nil {
			return nil, err
		}
		staff = append(staff, *m)
	}
	return staff, rows.Err()
}

func (s *SQLiteStore) GetStaff(ctx context.Context, id uuid.UUID) (*models.OfficeStaff, error) {
	m, err := scanSQLiteStaff(s.db.QueryRowContext(ctx, `SELECT `+sqliteStaffColumns+` FROM office_staff WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *SQLiteStore) GetStaffBySlug(ctx context.Context, slug string) (*models.OfficeStaff, error) {
	m, err := scanSQLiteStaff(s.db.QueryRowContext(ctx, `SELECT `+sqliteStaffColumns+` FROM office_staff WHERE slug = ?`, slug))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *SQLiteStore) CreateStaff(ctx context.Context, m *models.OfficeStaff) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO office_staff (`+sqliteStaffColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Slug, m.Name, m.Title, m.Email, m.Phone, m.Bio, m.PhotoURL,
		m.DisplayOrder, m.Active, m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	return translate(err)
}

func (s *SQLiteStore) UpdateStaff(ctx context.Context, m *models.OfficeStaff) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE office_staff SET slug = ?, name = ?, title = ?, email = ?, phone = ?, bio = ?, photo_url = ?,
			display_order = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		m.Slug, m.Name, m.Title, m.Email, m.Phone, m.Bio, m.PhotoURL,
		m.DisplayOrder, m.Active, m.UpdatedAt.UTC(), m.ID)
	return affected(res, translate(err))
}

func (s *SQLiteStore) DeleteStaff(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM office_staff WHERE id = ?`, id)
	return affected(res, err)
}

// =============================================================================
// Careers
// =============================================================================

const sqliteCareerColumns = `id, slug, title, department, location, employment_type, description, requirements,
	display_order, active, posted_at, created_at, updated_at`

func scanSQLiteCareer(row rowScanner) (*models.Career, error) {
	var c models.Career
	var posted sql.NullTime
	err := row.Scan(&c.ID, &c.Slug, &c.Title, &c.Department, &c.Location, &c.EmploymentType, &c.Description,
		&c.Requirements, &c.DisplayOrder, &c.Active, &posted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if posted.Valid {
		c.PostedAt = &posted.Time
	}
	return &c, nil
}

func (s *SQLiteStore) ListCareers(ctx context.Context, includeInactive bool) ([]models.Career, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteCareerColumns+` FROM careers
		WHERE active = TRUE OR ?
		ORDER BY display_order, posted_at DESC, title`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var careers []models.Career
	for rows.Next() {
		c, err := scanSQLiteCareer(rows)
		if err != nil {
			return nil, err
		}
		careers = append(careers, *c)
	}
	return careers, rows.Err()
}

func (s *SQLiteStore) GetCareer(ctx context.Context, id uuid.UUID) (*models.Career, error) {
	c, err := scanSQLiteCareer(s.db.QueryRowContext(ctx, `SELECT `+sqliteCareerColumns+` FROM careers WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) GetCareerBySlug(ctx context.Context, slug string) (*models.Career, error) {
	c, err := scanSQLiteCareer(s.db.QueryRowContext(ctx, `SELECT `+sqliteCareerColumns+` FROM careers WHERE slug = ?`, slug))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) CreateCareer(ctx context.Context, c *models.Career) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO careers (`+sqliteCareerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Slug, c.Title, c.Department, c.Location, c.EmploymentType, c.Description, c.Requirements,
		c.DisplayOrder, c.Active, nullableUTC(c.PostedAt), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	return translate(err)
}

func (s *SQLiteStore) UpdateCareer(ctx context.Context, c *models.Career) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE careers SET slug = ?, title = ?, department = ?, location = ?, employment_type = ?,
			description = ?, requirements = ?, display_order = ?, active = ?, posted_at = ?, updated_at = ?
		WHERE id = ?`,
		c.Slug, c.Title, c.Department, c.Location, c.EmploymentType,
		c.Description, c.Requirements, c.DisplayOrder, c.Active, nullableUTC(c.PostedAt), c.UpdatedAt.UTC(), c.ID)
	return affected(res, translate(err))
}

func (s *SQLiteStore) DeleteCareer(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM careers WHERE id = ?`, id)
	return affected(res, err)
}

// =============================================================================
// Admin users
// =============================================================================

func (s *SQLiteStore) GetAdminByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	var u models.AdminUser
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, created_at, updated_at
		FROM admin_users WHERE email = ?`, email).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) UpsertAdmin(ctx context.Context, u *models.AdminUser) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_users (id, email, password_hash, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			password_hash = excluded.password_hash,
			role = excluded.role,
			updated_at = excluded.updated_at`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	return err
}

// =============================================================================
// Helpers
// =============================================================================

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func nullableUTC(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
