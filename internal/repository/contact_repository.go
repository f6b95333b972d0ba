package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
)

const (
	contactColumns  = `id, audience_id, phone, data, created_at`
	audienceColumns = `id, user_id, name, contact_count, fields, created_at`
	templateColumns = `id, name, provider_template_id, body, variables, status, language, category, created_at, updated_at`
)

// ContactRepositoryInterface defines methods used by service
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Contact, error)
	FindByPhone(ctx context.Context, digits string) (*model.Contact, error)
}

// AudienceRepositoryInterface reads imported audiences.
type AudienceRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Audience, error)
}

// TemplateRepositoryInterface reads synced provider templates.
type TemplateRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Template, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sqlx.DB
}

// GetByID fetches a contact by ID; nil when it does not exist.
func (r *ContactRepository) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	var c model.Contact
	if err := r.DB.GetContext(ctx, &c, `SELECT `+contactColumns+` FROM contacts WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

const findByPhoneQuery = `SELECT ` + contactColumns + ` FROM contacts
        WHERE length(regexp_replace(phone, '\D', '', 'g')) >= $2
          AND regexp_replace(phone, '\D', '', 'g') LIKE '%' || $1
        ORDER BY id DESC
        LIMIT 1`

// FindByPhone returns the most recently imported contact whose phone digits
// end with digits; nil when none does.
func (r *ContactRepository) FindByPhone(ctx context.Context, digits string) (*model.Contact, error) {
	var c model.Contact
	if err := r.DB.GetContext(ctx, &c, findByPhoneQuery, digits, MinPhoneDigits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

type AudienceRepository struct {
	DB *sqlx.DB
}

func (r *AudienceRepository) GetByID(ctx context.Context, id int) (*model.Audience, error) {
	var a model.Audience
	if err := r.DB.GetContext(ctx, &a, `SELECT `+audienceColumns+` FROM audiences WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

type TemplateRepository struct {
	DB *sqlx.DB
}

func (r *TemplateRepository) GetByID(ctx context.Context, id int) (*model.Template, error) {
	var t model.Template
	if err := r.DB.GetContext(ctx, &t, `SELECT `+templateColumns+` FROM templates WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

var (
	_ ContactRepositoryInterface  = (*ContactRepository)(nil)
	_ AudienceRepositoryInterface = (*AudienceRepository)(nil)
	_ TemplateRepositoryInterface = (*TemplateRepository)(nil)
)
