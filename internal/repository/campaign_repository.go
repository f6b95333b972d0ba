package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/wa-campaign-dispatch/internal/errors"
	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	ListCampaigns(ctx context.Context, offset, limit, ownerID int, channel, status string) ([]*model.Campaign, int, error)
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	Create(ctx context.Context, c *model.Campaign) error
	Delete(ctx context.Context, id int) error

	// Dispatch
	FindDue(ctx context.Context, now time.Time) ([]*model.Campaign, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)
	TransitionStatus(ctx context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
	ScheduleNow(ctx context.Context, id int, at time.Time, from []model.CampaignStatus) (bool, error)
}

type CampaignRepository struct {
	DB *sqlx.DB
}

const campaignColumns = `id, user_id, name, status, scheduled_at, message_interval, variable_mapping,
	channel_type, channel_instance_ref, template_id, custom_body, audience_id, created_at, updated_at`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now().UTC()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.MessageInterval == "" {
		c.MessageInterval = model.IntervalMedium
	}
	c.ChannelType = c.ChannelType.Normalize()
	query := `
        INSERT INTO campaigns (user_id, name, status, scheduled_at, message_interval, variable_mapping,
            channel_type, channel_instance_ref, template_id, custom_body, audience_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING id
    `
	return r.DB.QueryRowxContext(ctx, query,
		c.UserID, c.Name, c.Status, c.ScheduledAt, c.MessageInterval, c.VariableMapping,
		c.ChannelType, c.ChannelInstanceRef, c.TemplateID, c.CustomBody, c.AudienceID, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	var c model.Campaign
	err := r.DB.GetContext(ctx, &c, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit, ownerID int, channel, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if ownerID > 0 {
		where += fmt.Sprintf(" AND user_id=$%d", argPos)
		args = append(args, ownerID)
		argPos++
	}
	if channel != "" {
		where += fmt.Sprintf(" AND channel_type=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.GetContext(ctx, &total, `SELECT COUNT(*) FROM campaigns`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	campaigns := []*model.Campaign{}
	if err := r.DB.SelectContext(ctx, &campaigns, query, append(args, limit, offset)...); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// Delete removes a campaign and its delivery records in one transaction.
// Campaigns being dispatched are refused.
func (r *CampaignRepository) Delete(ctx context.Context, id int) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status model.CampaignStatus
	if err := tx.GetContext(ctx, &status, `SELECT status FROM campaigns WHERE id=$1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.NewCampaignNotFound(id)
		}
		return err
	}
	if status == model.CampaignInProgress {
		return appErrors.ErrCampaignInFlight
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM delivery_records WHERE campaign_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ====================== Dispatch ======================

// FindDue returns Scheduled campaigns whose time has come, with template,
// audience and contacts (in import order) loaded.
func (r *CampaignRepository) FindDue(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
        ORDER BY scheduled_at, id`
	if err := r.DB.SelectContext(ctx, &campaigns, query, model.CampaignScheduled, now); err != nil {
		return nil, err
	}
	for _, c := range campaigns {
		if err := r.loadRelations(ctx, c); err != nil {
			return nil, fmt.Errorf("load campaign %d: %w", c.ID, err)
		}
	}
	return campaigns, nil
}

func (r *CampaignRepository) loadRelations(ctx context.Context, c *model.Campaign) error {
	if c.TemplateID != nil {
		var t model.Template
		err := r.DB.GetContext(ctx, &t, `SELECT `+templateColumns+` FROM templates WHERE id=$1`, *c.TemplateID)
		switch {
		case err == nil:
			c.Template = &t
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
	}

	var a model.Audience
	err := r.DB.GetContext(ctx, &a, `SELECT `+audienceColumns+` FROM audiences WHERE id=$1`, c.AudienceID)
	switch {
	case err == nil:
		c.Audience = &a
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	contacts := []model.Contact{}
	if err := r.DB.SelectContext(ctx, &contacts,
		`SELECT `+contactColumns+` FROM contacts WHERE audience_id=$1 ORDER BY id`, c.AudienceID); err != nil {
		return err
	}
	c.Contacts = contacts
	return nil
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	campaigns := []*model.Campaign{}
	err := r.DB.SelectContext(ctx, &campaigns, `SELECT `+campaignColumns+` FROM campaigns WHERE status=$1 ORDER BY id`, status)
	return campaigns, err
}

// TransitionStatus moves a campaign to `to` only if its current status is one
// of `from`. It reports whether the row changed.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3 AND status = ANY($4)`
	res, err := r.DB.ExecContext(ctx, query, to, time.Now().UTC(), id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ScheduleNow marks a campaign Scheduled at the given instant so the next poll
// picks it up.
func (r *CampaignRepository) ScheduleNow(ctx context.Context, id int, at time.Time, from []model.CampaignStatus) (bool, error) {
	query := `UPDATE campaigns SET status=$1, scheduled_at=$2, updated_at=$2 WHERE id=$3 AND status = ANY($4)`
	res, err := r.DB.ExecContext(ctx, query, model.CampaignScheduled, at, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func statusStrings(in []model.CampaignStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
