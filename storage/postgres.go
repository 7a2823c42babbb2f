package storage

import (
	"context"
	_ "embed"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"brokerage/models"
)

//go:embed schema/postgres.sql
var postgresSchema string

type PostgresStore struct {
	pool    *pgxpool.Pool
	lockKey int64
}

// NewPostgresStore connects to Supabase Postgres. lockName scopes the refresh
// advisory lock, so processes for different regions never block each other.
func NewPostgresStore(ctx context.Context, connString, lockName string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool, lockKey: AdvisoryLockKey("property-refresh:" + lockName)}, nil
}

// AdvisoryLockKey hashes a lock name into the bigint pg_advisory_lock expects.
func AdvisoryLockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

// =============================================================================
// Refresh lock
// =============================================================================

// AcquireRefreshLock takes a session-level advisory lock on a dedicated pool
// connection. The connection stays checked out until release is called.
func (s *PostgresStore) AcquireRefreshLock(ctx context.Context) (func(), bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, s.lockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, s.lockKey); err != nil {
			log.Error().Err(err).Msg("Storage: advisory unlock failed, dropping connection")
			// closing the session releases the lock server-side
			conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}
	return release, true, nil
}

// =============================================================================
// Property cache
// =============================================================================

func (s *PostgresStore) ExistingHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT listing_id, content_hash FROM property_cache`)
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

func (s *PostgresStore) UpsertProperties(ctx context.Context, props []models.CachedProperty) error {
	if len(props) == 0 {
		return nil
	}

	query := `
		INSERT INTO property_cache (listing_id, property_data, status, content_hash, last_updated, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (listing_id) DO UPDATE SET
			property_data = EXCLUDED.property_data,
			status = EXCLUDED.status,
			content_hash = EXCLUDED.content_hash,
			last_updated = EXCLUDED.last_updated,
			is_active = EXCLUDED.is_active`

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range props {
			batch.Queue(query, p.ListingID, []byte(p.PropertyData), string(p.Status), p.ContentHash, p.LastUpdated, p.IsActive)
		}
		br := tx.SendBatch(ctx, batch)
		for _, p := range props {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("upsert %s: %w", p.ListingID, err)
			}
		}
		return br.Close()
	})
}

func (s *PostgresStore) TouchProperties(ctx context.Context, listingIDs []string, at time.Time) error {
	if len(listingIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE property_cache SET last_updated = $1, is_active = TRUE
		WHERE listing_id = ANY($2)`, at, listingIDs)
	return err
}

func (s *PostgresStore) DeactivateMissing(ctx context.Context, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE property_cache SET is_active = FALSE
		WHERE is_active AND NOT (listing_id = ANY($1))`, keep)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ClearProperties(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM property_cache`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) InvalidateProperties(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE property_cache SET last_updated = to_timestamp(0)`)
	return err
}

func (s *PostgresStore) ListProperties(ctx context.Context, f models.PropertyFilter) ([]models.CachedProperty, error) {
	var where []string
	var args []any
	if !f.IncludeInactive {
		where = append(where, "is_active")
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT listing_id, property_data, status, content_hash, last_updated, is_active FROM property_cache`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_updated DESC, listing_id"
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []models.CachedProperty
	for rows.Next() {
		p, err := scanPostgresProperty(rows)
		if err != nil {
			return nil, err
		}
		props = append(props, *p)
	}
	return props, rows.Err()
}

func (s *PostgresStore) GetProperty(ctx context.Context, listingID string) (*models.CachedProperty, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT listing_id, property_data, status, content_hash, last_updated, is_active
		FROM property_cache WHERE listing_id = $1`, listingID)

	p, err := scanPostgresProperty(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func scanPostgresProperty(row rowScanner) (*models.CachedProperty, error) {
	var p models.CachedProperty
	var data []byte
	var status string
	if err := row.Scan(&p.ListingID, &data, &status, &p.ContentHash, &p.LastUpdated, &p.IsActive); err != nil {
		return nil, err
	}
	p.PropertyData = data
	p.Status = models.ListingStatus(status)
	return &p, nil
}

func (s *PostgresStore) CacheStats(ctx context.Context) (*models.CacheStats, error) {
	var stats models.CacheStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active AND status = 'active'),
			COUNT(*) FILTER (WHERE is_active AND status = 'under_contract'),
			COUNT(*) FILTER (WHERE NOT is_active),
			MAX(last_updated) FILTER (WHERE is_active),
			MIN(last_updated) FILTER (WHERE is_active)
		FROM property_cache`).Scan(&stats.Total, &stats.Active, &stats.UnderContract, &stats.Inactive,
		&stats.Newest, &stats.Oldest)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// =============================================================================
// Refresh runs
// =============================================================================

func (s *PostgresStore) CreateRefreshRun(ctx context.Context, run *models.RefreshRun) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO refresh_runs (region, trigger_source, started_at, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		run.Region, string(run.Trigger), run.StartedAt, string(run.Status)).Scan(&run.ID)
}

func (s *PostgresStore) FinishRefreshRun(ctx context.Context, run *models.RefreshRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_runs SET finished_at = $1, status = $2, pages = $3, fetched = $4, inserted = $5,
			updated = $6, unchanged = $7, deactivated = $8, error = $9
		WHERE id = $10`,
		run.FinishedAt, string(run.Status), run.Pages, run.Fetched, run.Inserted,
		run.Updated, run.Unchanged, run.Deactivated, run.Error, run.ID)
	return err
}

func (s *PostgresStore) LatestRefreshRun(ctx context.Context) (*models.RefreshRun, error) {
	var run models.RefreshRun
	var trigger, status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, region, trigger_source, started_at, finished_at, status, pages, fetched,
			inserted, updated, unchanged, deactivated, error
		FROM refresh_runs ORDER BY started_at DESC, id DESC LIMIT 1`).Scan(
		&run.ID, &run.Region, &trigger, &run.StartedAt, &run.FinishedAt, &status, &run.Pages, &run.Fetched,
		&run.Inserted, &run.Updated, &run.Unchanged, &run.Deactivated, &run.Error)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Trigger = models.RefreshTrigger(trigger)
	run.Status = models.RunStatus(status)
	return &run, nil
}

// =============================================================================
// Agents
// =============================================================================

const agentColumns = `id, slug, name, title, email, phone, bio, photo_url, license_number,
	display_order, active, created_at, updated_at`

func scanPostgresAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.Slug, &a.Name, &a.Title, &a.Email, &a.Phone, &a.Bio, &a.PhotoURL, &a.LicenseNo,
		&a.DisplayOrder, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context, includeInactive bool) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE active OR $1
		ORDER BY display_order, name`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanPostgresAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *PostgresStore) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	a, err := scanPostgresAgent(s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStore) GetAgentBySlug(ctx context.Context, slug string) (*models.Agent, error) {
	a, err := scanPostgresAgent(s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE slug = $1`, slug))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStore) CreateAgent(ctx context.Context, a *models.Agent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.Slug, a.Name, a.Title, a.Email, a.Phone, a.Bio, a.PhotoURL, a.LicenseNo,
		a.DisplayOrder, a.Active, a.CreatedAt, a.UpdatedAt)
	return translate(err)
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, a *models.Agent) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET slug = $1, name = $2, title = $3, email = $4, phone = $5, bio = $6, photo_url = $7,
			license_number = $8, display_order = $9, active = $10, updated_at = $11
		WHERE id = $12`,
		a.Slug, a.Name, a.Title, a.Email, a.Phone, a.Bio, a.PhotoURL,
		a.LicenseNo, a.DisplayOrder, a.Active, a.UpdatedAt, a.ID)
	return tagAffected(tag, translate(err))
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	return tagAffected(tag, err)
}

// =============================================================================
// Office staff
// =============================================================================

const staffColumns = `id, slug, name, title, email, phone, bio, photo_url,
	display_order, active, created_at, updated_at`

func scanPostgresStaff(row rowScanner) (*models.OfficeStaff, error) {
	var m models.OfficeStaff
	err := row.Scan(&m.ID, &m.Slug, &m.Name, &m.Title, &m.Email, &m.Phone, &m.Bio, &m.PhotoURL,
		&m.DisplayOrder, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) ListStaff(ctx context.Context, includeInactive bool) ([]models.OfficeStaff, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+staffColumns+` FROM office_staff
		WHERE active OR $1
		ORDER BY display_order, name`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var staff []models.OfficeStaff
	for rows.Next() {
		m, err := scanPostgresStaff(rows)
		if err != nil {
			return nil, err
		}
		staff = append(staff, *m)
	}
	return staff, rows.Err()
}

func (s *PostgresStore) GetStaff(ctx context.Context, id uuid.UUID) (*models.OfficeStaff, error) {
	m, err := scanPostgresStaff(s.pool.QueryRow(ctx, `SELECT `+staffColumns+` FROM office_staff WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *PostgresStore) GetStaffBySlug(ctx context.Context, slug string) (*models.OfficeStaff, error) {
	m, err := scanPostgresStaff(s.pool.QueryRow(ctx, `SELECT `+staffColumns+` FROM office_staff WHERE slug = $1`, slug))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *PostgresStore) CreateStaff(ctx context.Context, m *models.OfficeStaff) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO office_staff (`+staffColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.Slug, m.Name, m.Title, m.Email, m.Phone, m.Bio, m.PhotoURL,
		m.DisplayOrder, m.Active, m.CreatedAt, m.UpdatedAt)
	return translate(err)
}

func (s *PostgresStore) UpdateStaff(ctx context.Context, m *models.OfficeStaff) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE office_staff SET slug = $1, name = $2, title = $3, email = $4, phone = $5, bio = $6, photo_url = $7,
			display_order = $8, active = $9, updated_at = $10
		WHERE id = $11`,
		m.Slug, m.Name, m.Title, m.Email, m.Phone, m.Bio, m.PhotoURL,
		m.DisplayOrder, m.Active, m.UpdatedAt, m.ID)
	return tagAffected(tag, translate(err))
}

func (s *PostgresStore) DeleteStaff(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM office_staff WHERE id = $1`, id)
	return tagAffected(tag, err)
}

// =============================================================================
// Careers
// =============================================================================

const careerColumns = `id, slug, title, department, location, employment_type, description, requirements,
	display_order, active, posted_at, created_at, updated_at`

func scanPostgresCareer(row rowScanner) (*models.Career, error) {
	var c models.Career
	err := row.Scan(&c.ID, &c.Slug, &c.Title, &c.Department, &c.Location, &c.EmploymentType, &c.Description,
		&c.Requirements, &c.DisplayOrder, &c.Active, &c.PostedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ListCareers(ctx context.Context, includeInactive bool) ([]models.Career, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+careerColumns+` FROM careers
		WHERE active OR $1
		ORDER BY display_order, posted_at DESC NULLS LAST, title`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var careers []models.Career
	for rows.Next() {
		c, err := scanPostgresCareer(rows)
		if err != nil {
			return nil, err
		}
		careers = append(careers, *c)
	}
	return careers, rows.Err()
}

func (s *PostgresStore) GetCareer(ctx context.Context, id uuid.UUID) (*models.Career, error) {
	c, err := scanPostgresCareer(s.pool.QueryRow(ctx, `SELECT `+careerColumns+` FROM careers WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) GetCareerBySlug(ctx context.Context, slug string) (*models.Career, error) {
	c, err := scanPostgresCareer(s.pool.QueryRow(ctx, `SELECT `+careerColumns+` FROM careers WHERE slug = $1`, slug))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) CreateCareer(ctx context.Context, c *models.Career) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO careers (`+careerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.Slug, c.Title, c.Department, c.Location, c.EmploymentType, c.Description, c.Requirements,
		c.DisplayOrder, c.Active, c.PostedAt, c.CreatedAt, c.UpdatedAt)
	return translate(err)
}

func (s *PostgresStore) UpdateCareer(ctx context.Context, c *models.Career) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE careers SET slug = $1, title = $2, department = $3, location = $4, employment_type = $5,
			description = $6, requirements = $7, display_order = $8, active = $9, posted_at = $10, updated_at = $11
		WHERE id = $12`,
		c.Slug, c.Title, c.Department, c.Location, c.EmploymentType,
		c.Description, c.Requirements, c.DisplayOrder, c.Active, c.PostedAt, c.UpdatedAt, c.ID)
	return tagAffected(tag, translate(err))
}

func (s *PostgresStore) DeleteCareer(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM careers WHERE id = $1`, id)
	return tagAffected(tag, err)
}

// =============================================================================
// Admin users
// =============================================================================

func (s *PostgresStore) GetAdminByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	var u models.AdminUser
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, role, created_at, updated_at
		FROM admin_users WHERE email = $1`, email).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (s *PostgresStore) UpsertAdmin(ctx context.Context, u *models.AdminUser) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_users (id, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at`,
		u.ID, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt, u.UpdatedAt)
	return err
}

func tagAffected(tag pgconn.CommandTag, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
