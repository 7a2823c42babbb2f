package services

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"brokerage/mls"
	"brokerage/models"
)

// PropertyStore is the property cache and its refresh bookkeeping.
type PropertyStore interface {
	// AcquireRefreshLock returns acquired=false without error when another
	// refresh holds the lock.
	AcquireRefreshLock(ctx context.Context) (release func(), acquired bool, err error)
	ExistingHashes(ctx context.Context) (map[string]string, error)
	UpsertProperties(ctx context.Context, props []models.CachedProperty) error
	TouchProperties(ctx context.Context, listingIDs []string, at time.Time) error
	DeactivateMissing(ctx context.Context, keep []string) (int, error)
	ClearProperties(ctx context.Context) (int, error)
	InvalidateProperties(ctx context.Context) error
	ListProperties(ctx context.Context, f models.PropertyFilter) ([]models.CachedProperty, error)
	GetProperty(ctx context.Context, listingID string) (*models.CachedProperty, error)
	CacheStats(ctx context.Context) (*models.CacheStats, error)

	CreateRefreshRun(ctx context.Context, run *models.RefreshRun) error
	FinishRefreshRun(ctx context.Context, run *models.RefreshRun) error
	LatestRefreshRun(ctx context.Context) (*models.RefreshRun, error)
}

type DirectoryStore interface {
	ListAgents(ctx context.Context, includeInactive bool) ([]models.Agent, error)
	GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetAgentBySlug(ctx context.Context, slug string) (*models.Agent, error)
	CreateAgent(ctx context.Context, a *models.Agent) error
	UpdateAgent(ctx context.Context, a *models.Agent) (bool, error)
	DeleteAgent(ctx context.Context, id uuid.UUID) (bool, error)

	ListStaff(ctx context.Context, includeInactive bool) ([]models.OfficeStaff, error)
	GetStaff(ctx context.Context, id uuid.UUID) (*models.OfficeStaff, error)
	GetStaffBySlug(ctx context.Context, slug string) (*models.OfficeStaff, error)
	CreateStaff(ctx context.Context, m *models.OfficeStaff) error
	UpdateStaff(ctx context.Context, m *models.OfficeStaff) (bool, error)
	DeleteStaff(ctx context.Context, id uuid.UUID) (bool, error)

	ListCareers(ctx context.Context, includeInactive bool) ([]models.Career, error)
	GetCareer(ctx context.Context, id uuid.UUID) (*models.Career, error)
	GetCareerBySlug(ctx context.Context, slug string) (*models.Career, error)
	CreateCareer(ctx context.Context, c *models.Career) error
	UpdateCareer(ctx context.Context, c *models.Career) (bool, error)
	DeleteCareer(ctx context.Context, id uuid.UUID) (bool, error)
}

type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	UpsertAdmin(ctx context.Context, u *models.AdminUser) error
}

// Store is everything the HTTP surface needs from persistence.
type Store interface {
	PropertyStore
	DirectoryStore
	AdminStore
	Ping(ctx context.Context) error
}

// ListingFetcher pulls the full listing feed. *mls.Client implements it.
type ListingFetcher interface {
	FetchAll(ctx context.Context, resource string, q mls.Query, maxPages int) *mls.FetchResult
}

// PhotoStorage receives uploaded directory photos.
type PhotoStorage interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	PublicURL(key string) string
}
