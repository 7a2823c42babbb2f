package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a licensed agent shown in the public directory.
type Agent struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Slug         string    `json:"slug" db:"slug" validate:"omitempty,max=120"`
	Name         string    `json:"name" db:"name" validate:"required,max=200"`
	Title        string    `json:"title" db:"title" validate:"required,max=200"`
	Email        string    `json:"email" db:"email" validate:"omitempty,email"`
	Phone        string    `json:"phone" db:"phone" validate:"omitempty,max=40"`
	Bio          string    `json:"bio" db:"bio"`
	PhotoURL     string    `json:"photo_url" db:"photo_url" validate:"omitempty,url"`
	LicenseNo    string    `json:"license_number" db:"license_number" validate:"omitempty,max=60"`
	DisplayOrder int       `json:"display_order" db:"display_order"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// OfficeStaff is non-agent office personnel.
type OfficeStaff struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Slug         string    `json:"slug" db:"slug" validate:"omitempty,max=120"`
	Name         string    `json:"name" db:"name" validate:"required,max=200"`
	Title        string    `json:"title" db:"title" validate:"required,max=200"`
	Email        string    `json:"email" db:"email" validate:"omitempty,email"`
	Phone        string    `json:"phone" db:"phone" validate:"omitempty,max=40"`
	Bio          string    `json:"bio" db:"bio"`
	PhotoURL     string    `json:"photo_url" db:"photo_url" validate:"omitempty,url"`
	DisplayOrder int       `json:"display_order" db:"display_order"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

type Career struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Slug           string     `json:"slug" db:"slug" validate:"omitempty,max=120"`
	Title          string     `json:"title" db:"title" validate:"required,max=200"`
	Department     string     `json:"department" db:"department" validate:"omitempty,max=120"`
	Location       string     `json:"location" db:"location" validate:"omitempty,max=200"`
	EmploymentType string     `json:"employment_type" db:"employment_type" validate:"omitempty,oneof=full_time part_time contract internship"`
	Description    string     `json:"description" db:"description" validate:"required"`
	Requirements   string     `json:"requirements" db:"requirements"`
	DisplayOrder   int        `json:"display_order" db:"display_order"`
	Active         bool       `json:"active" db:"active"`
	PostedAt       *time.Time `json:"posted_at" db:"posted_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

type DirectoryFilter struct {
	IncludeInactive bool
}
