package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"brokerage/identity"
	"brokerage/models"
	"brokerage/storage"
)

const maxSlugAttempts = 5

var photoExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// DirectoryService manages agents, office staff and career postings.
type DirectoryService struct {
	store  DirectoryStore
	photos PhotoStorage // nil when storage is not configured
	now    func() time.Time
}

func NewDirectoryService(store DirectoryStore, photos PhotoStorage) *DirectoryService {
	return &DirectoryService{store: store, photos: photos, now: time.Now}
}

// insertWithSlug runs create with the requested slug, or with one derived
// from name. Derived slugs get a numeric suffix on collision; requested ones
// fail with ErrConflict.
func insertWithSlug(requested, name string, create func(slug string) error) (string, error) {
	if requested != "" {
		slug := identity.Slugify(requested)
		if slug == "" {
			return "", fieldError("slug", "must contain letters or digits")
		}
		if err := create(slug); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return "", fmt.Errorf("slug %q: %w", slug, ErrConflict)
			}
			return "", err
		}
		return slug, nil
	}

	base := identity.Slugify(name)
	if base == "" {
		base = "entry"
	}
	for i := 1; i <= maxSlugAttempts; i++ {
		slug := base
		if i > 1 {
			slug = fmt.Sprintf("%s-%d", base, i)
		}
		err := create(slug)
		if err == nil {
			return slug, nil
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return "", err
		}
	}
	return "", fmt.Errorf("slug %q: %w", base, ErrConflict)
}

func normalizeSlugOnUpdate(slug, name string) (string, error) {
	if slug == "" {
		slug = name
	}
	out := identity.Slugify(slug)
	if out == "" {
		return "", fieldError("slug", "must contain letters or digits")
	}
	return out, nil
}

func updated(ok bool, err error) error {
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return fmt.Errorf("slug: %w", ErrConflict)
		}
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *DirectoryService) photoKey(kind string, id uuid.UUID, contentType string) (string, error) {
	ext, ok := photoExtensions[strings.ToLower(contentType)]
	if !ok {
		return "", fieldError("photo", "must be a JPEG, PNG, WebP or GIF image")
	}
	return path.Join(kind, id.String(), uuid.NewString()+ext), nil
}

func (s *DirectoryService) uploadPhoto(ctx context.Context, kind string, id uuid.UUID, contentType string, data io.Reader) (string, error) {
	if s.photos == nil {
		return "", ErrUnavailable
	}
	key, err := s.photoKey(kind, id, contentType)
	if err != nil {
		return "", err
	}
	if err := s.photos.Upload(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	log.Info().Str("kind", kind).Str("id", id.String()).Str("key", key).Msg("Directory: photo uploaded")
	return s.photos.PublicURL(key), nil
}

// =============================================================================
// Agents
// =============================================================================

func (s *DirectoryService) ListAgents(ctx context.Context, includeInactive bool) ([]models.Agent, error) {
	agents, err := s.store.ListAgents(ctx, includeInactive)
	if agents == nil && err == nil {
		agents = []models.Agent{}
	}
	return agents, err
}

// GetAgent resolves a uuid or a slug.
func (s *DirectoryService) GetAgent(ctx context.Context, idOrSlug string) (*models.Agent, error) {
	var a *models.Agent
	var err error
	if id, perr := uuid.Parse(idOrSlug); perr == nil {
		a, err = s.store.GetAgent(ctx, id)
	} else {
		a, err = s.store.GetAgentBySlug(ctx, idOrSlug)
	}
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *DirectoryService) CreateAgent(ctx context.Context, a *models.Agent) error {
	if err := Validate(a); err != nil {
		return err
	}
	now := s.now().UTC()
	a.ID = uuid.New()
	a.CreatedAt, a.UpdatedAt = now, now

	slug, err := insertWithSlug(a.Slug, a.Name, func(slug string) error {
		a.Slug = slug
		return s.store.CreateAgent(ctx, a)
	})
	if err != nil {
		return err
	}
	a.Slug = slug
	return nil
}

func (s *DirectoryService) UpdateAgent(ctx context.Context, a *models.Agent) error {
	if err := Validate(a); err != nil {
		return err
	}
	slug, err := normalizeSlugOnUpdate(a.Slug, a.Name)
	if err != nil {
		return err
	}
	a.Slug = slug
	a.UpdatedAt = s.now().UTC()
	return updated(s.store.UpdateAgent(ctx, a))
}

func (s *DirectoryService) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	return updated(s.store.DeleteAgent(ctx, id))
}

func (s *DirectoryService) SetAgentPhoto(ctx context.Context, id uuid.UUID, contentType string, data io.Reader) (*models.Agent, error) {
	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	url, err := s.uploadPhoto(ctx, "agents", id, contentType, data)
	if err != nil {
		return nil, err
	}
	a.PhotoURL = url
	a.UpdatedAt = s.now().UTC()
	if err := updated(s.store.UpdateAgent(ctx, a)); err != nil {
		return nil, err
	}
	return a, nil
}

// =============================================================================
// Office staff
// =============================================================================

func (s *DirectoryService) ListStaff(ctx context.Context, includeInactive bool) ([]models.OfficeStaff, error) {
	staff, err := s.store.ListStaff(ctx, includeInactive)
	if staff == nil && err == nil {
		staff = []models.OfficeStaff{}
	}
	return staff, err
}

func (s *DirectoryService) GetStaff(ctx context.Context, idOrSlug string) (*models.OfficeStaff, error) {
	var m *models.OfficeStaff
	var err error
	if id, perr := uuid.Parse(idOrSlug); perr == nil {
		m, err = s.store.GetStaff(ctx, id)
	} else {
		m, err = s.store.GetStaffBySlug(ctx, idOrSlug)
	}
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *DirectoryService) CreateStaff(ctx context.Context, m *models.OfficeStaff) error {
	if err := Validate(m); err != nil {
		return err
	}
	now := s.now().UTC()
	m.ID = uuid.New()
	m.CreatedAt, m.UpdatedAt = now, now

	slug, err := insertWithSlug(m.Slug, m.Name, func(slug string) error {
		m.Slug = slug
		return s.store.CreateStaff(ctx, m)
	})
	if err != nil {
		return err
	}
	m.Slug = slug
	return nil
}

func (s *DirectoryService) UpdateStaff(ctx context.Context, m *models.OfficeStaff) error {
	if err := Validate(m); err != nil {
		return err
	}
	slug, err := normalizeSlugOnUpdate(m.Slug, m.Name)
	if err != nil {
		return err
	}
	m.Slug = slug
	m.UpdatedAt = s.now().UTC()
	return updated(s.store.UpdateStaff(ctx, m))
}

func (s *DirectoryService) DeleteStaff(ctx context.Context, id uuid.UUID) error {
	return updated(s.store.DeleteStaff(ctx, id))
}

func (s *DirectoryService) SetStaffPhoto(ctx context.Context, id uuid.UUID, contentType string, data io.Reader) (*models.OfficeStaff, error) {
	m, err := s.store.GetStaff(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}
	url, err := s.uploadPhoto(ctx, "office-staff", id, contentType, data)
	if err != nil {
		return nil, err
	}
	m.PhotoURL = url
	m.UpdatedAt = s.now().UTC()
	if err := updated(s.store.UpdateStaff(ctx, m)); err != nil {
		return nil, err
	}
	return m, nil
}

// =============================================================================
// Careers
// =============================================================================

func (s *DirectoryService) ListCareers(ctx context.Context, includeInactive bool) ([]models.Career, error) {
	careers, err := s.store.ListCareers(ctx, includeInactive)
	if careers == nil && err == nil {
		careers = []models.Career{}
	}
	return careers, err
}

func (s *DirectoryService) GetCareer(ctx context.Context, idOrSlug string) (*models.Career, error) {
	var c *models.Career
	var err error
	if id, perr := uuid.Parse(idOrSlug); perr == nil {
		c, err = s.store.GetCareer(ctx, id)
	} else {
		c, err = s.store.GetCareerBySlug(ctx, idOrSlug)
	}
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *DirectoryService) CreateCareer(ctx context.Context, c *models.Career) error {
	if err := Validate(c); err != nil {
		return err
	}
	now := s.now().UTC()
	c.ID = uuid.New()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.PostedAt == nil && c.Active {
		c.PostedAt = &now
	}

	slug, err := insertWithSlug(c.Slug, c.Title, func(slug string) error {
		c.Slug = slug
		return s.store.CreateCareer(ctx, c)
	})
	if err != nil {
		return err
	}
	c.Slug = slug
	return nil
}

func (s *DirectoryService) UpdateCareer(ctx context.Context, c *models.Career) error {
	if err := Validate(c); err != nil {
		return err
	}
	slug, err := normalizeSlugOnUpdate(c.Slug, c.Title)
	if err != nil {
		return err
	}
	c.Slug = slug
	now := s.now().UTC()
	c.UpdatedAt = now
	if c.PostedAt == nil && c.Active {
		c.PostedAt = &now
	}
	return updated(s.store.UpdateCareer(ctx, c))
}

func (s *DirectoryService) DeleteCareer(ctx context.Context, id uuid.UUID) error {
	return updated(s.store.DeleteCareer(ctx, id))
}
