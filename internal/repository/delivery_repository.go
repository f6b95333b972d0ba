package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
)

const deliveryColumns = `id, campaign_id, contact_id, provider_message_id, status, last_error, created_at, updated_at`

type DeliveryRepositoryInterface interface {
	Upsert(ctx context.Context, rec *model.DeliveryRecord) error
	ListByProviderID(ctx context.Context, providerMessageID string) ([]model.DeliveryRecord, error)
	UpdateStatus(ctx context.Context, id int, from, to model.DeliveryStatus) (bool, error)
	LatestOpenByPhone(ctx context.Context, digits string) (*model.DeliveryRecord, error)
	CountByStatus(ctx context.Context, campaignID int) (map[model.DeliveryStatus]int, error)
	ListByCampaign(ctx context.Context, campaignID int) ([]model.DeliveryReportRow, error)
}

type DeliveryRepository struct {
	DB *sqlx.DB
}

// Upsert writes the one record per (campaign, contact). A second attempt for
// the same pair overwrites the provider id, status and error.
func (r *DeliveryRepository) Upsert(ctx context.Context, rec *model.DeliveryRecord) error {
	now := time.Now().UTC()
	query := `
        INSERT INTO delivery_records (campaign_id, contact_id, provider_message_id, status, last_error, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        ON CONFLICT (campaign_id, contact_id) DO UPDATE
            SET provider_message_id = EXCLUDED.provider_message_id,
                status = EXCLUDED.status,
                last_error = EXCLUDED.last_error,
                updated_at = EXCLUDED.updated_at
        RETURNING id, created_at, updated_at
    `
	return r.DB.QueryRowxContext(ctx, query,
		rec.CampaignID, rec.ContactID, rec.ProviderMessageID, rec.Status, rec.LastError, now,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

func (r *DeliveryRepository) ListByProviderID(ctx context.Context, providerMessageID string) ([]model.DeliveryRecord, error) {
	records := []model.DeliveryRecord{}
	err := r.DB.SelectContext(ctx, &records,
		`SELECT `+deliveryColumns+` FROM delivery_records WHERE provider_message_id=$1 ORDER BY id`, providerMessageID)
	return records, err
}

// UpdateStatus is a compare-and-set on the record status.
func (r *DeliveryRepository) UpdateStatus(ctx context.Context, id int, from, to model.DeliveryStatus) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE delivery_records SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MinPhoneDigits is the shortest stored or incoming phone that takes part in
// suffix matching.
const MinPhoneDigits = 8

// latestOpenByPhoneQuery matches suffixes in both directions. Both sides must
// carry at least MinPhoneDigits digits so a short stored phone cannot match
// every reply.
var latestOpenByPhoneQuery = fmt.Sprintf(`
        SELECT d.id, d.campaign_id, d.contact_id, d.provider_message_id, d.status, d.last_error, d.created_at, d.updated_at
        FROM delivery_records d
        JOIN contacts c ON c.id = d.contact_id
        WHERE d.status NOT IN ('responded', 'failed')
          AND length($1::text) >= %[1]d
          AND length(regexp_replace(c.phone, '\D', '', 'g')) >= %[1]d
          AND (regexp_replace(c.phone, '\D', '', 'g') LIKE '%%' || $1
               OR $1 LIKE '%%' || regexp_replace(c.phone, '\D', '', 'g'))
        ORDER BY d.created_at DESC, d.id DESC
        LIMIT 1
    `, MinPhoneDigits)

// LatestOpenByPhone finds the newest record still awaiting a reply whose
// contact phone matches digits, ignoring formatting and country prefixes.
func (r *DeliveryRepository) LatestOpenByPhone(ctx context.Context, digits string) (*model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	if err := r.DB.GetContext(ctx, &rec, latestOpenByPhoneQuery, digits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *DeliveryRepository) CountByStatus(ctx context.Context, campaignID int) (map[model.DeliveryStatus]int, error) {
	rows, err := r.DB.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM delivery_records WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.DeliveryStatus]int{}
	for rows.Next() {
		var status model.DeliveryStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListByCampaign returns one row per attempted contact, in contact order.
func (r *DeliveryRepository) ListByCampaign(ctx context.Context, campaignID int) ([]model.DeliveryReportRow, error) {
	rows := []model.DeliveryReportRow{}
	err := r.DB.SelectContext(ctx, &rows, `
        SELECT d.contact_id, c.phone, c.data, d.status
        FROM delivery_records d
        JOIN contacts c ON c.id = d.contact_id
        WHERE d.campaign_id=$1
        ORDER BY c.id`, campaignID)
	return rows, err
}

var _ DeliveryRepositoryInterface = (*DeliveryRepository)(nil)
