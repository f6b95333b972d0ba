package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
)

type SenderInstanceRepositoryInterface interface {
	Upsert(ctx context.Context, inst *model.SenderInstance) error
	GetByInboxID(ctx context.Context, inboxID int) (*model.SenderInstance, error)
}

type SenderInstanceRepository struct {
	DB *sqlx.DB
}

// Upsert records the latest status reported for an inbox. A blank name keeps
// the stored one, or becomes "Instancia-<inbox>" on first report.
func (r *SenderInstanceRepository) Upsert(ctx context.Context, inst *model.SenderInstance) error {
	if inst.Type == "" {
		inst.Type = model.InstanceTypeBaileys
	}
	query := `
        INSERT INTO sender_instances (chatwoot_inbox_id, instance_name, whatsapp_number, status, type, created_at, updated_at)
        VALUES ($1, COALESCE(NULLIF($2, ''), 'Instancia-' || $1::text), $3, $4, $5, $6, $6)
        ON CONFLICT (chatwoot_inbox_id) DO UPDATE SET
            instance_name = COALESCE(NULLIF($2, ''), sender_instances.instance_name),
            whatsapp_number = EXCLUDED.whatsapp_number,
            status = EXCLUDED.status,
            updated_at = EXCLUDED.updated_at
        RETURNING id, instance_name, type, created_at, updated_at
    `
	return r.DB.QueryRowxContext(ctx, query,
		inst.ChatwootInboxID, inst.InstanceName, inst.WhatsappNumber, inst.Status, inst.Type, time.Now().UTC(),
	).Scan(&inst.ID, &inst.InstanceName, &inst.Type, &inst.CreatedAt, &inst.UpdatedAt)
}

// GetByInboxID returns nil when the inbox never reported.
func (r *SenderInstanceRepository) GetByInboxID(ctx context.Context, inboxID int) (*model.SenderInstance, error) {
	var inst model.SenderInstance
	err := r.DB.GetContext(ctx, &inst, `
        SELECT id, chatwoot_inbox_id, instance_name, whatsapp_number, status, type, created_at, updated_at
        FROM sender_instances WHERE chatwoot_inbox_id=$1`, inboxID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &inst, nil
}

var _ SenderInstanceRepositoryInterface = (*SenderInstanceRepository)(nil)
