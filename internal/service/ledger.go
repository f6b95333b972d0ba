package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/unclebandit/wa-campaign-dispatch/internal/channel"
	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
	"github.com/unclebandit/wa-campaign-dispatch/internal/notify"
	"github.com/unclebandit/wa-campaign-dispatch/internal/repository"
)

// Ledger owns per-contact delivery state.
type Ledger struct {
	Repo     repository.DeliveryRepositoryInterface
	Notifier notify.Notifier
}

func NewLedger(repo repository.DeliveryRepositoryInterface, n notify.Notifier) *Ledger {
	if n == nil {
		n = notify.Nop{}
	}
	return &Ledger{Repo: repo, Notifier: n}
}

// RecordSubmission stores a successful send. Without a provider id nothing
// will ever correlate a status callback, so the record starts as sent.
func (l *Ledger) RecordSubmission(ctx context.Context, campaignID, contactID int, providerMessageID string) (*model.DeliveryRecord, error) {
	rec := &model.DeliveryRecord{
		CampaignID: campaignID,
		ContactID:  contactID,
		Status:     model.DeliverySent,
	}
	if providerMessageID != "" {
		rec.ProviderMessageID = &providerMessageID
		rec.Status = model.DeliverySubmitted
	}
	if err := l.Repo.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("record submission for contact %d: %w", contactID, err)
	}
	l.Notifier.DeliveryStatusChanged(ctx, campaignID, contactID, rec.Status)
	return rec, nil
}

// RecordFailure stores the failed attempt that aborted a run.
func (l *Ledger) RecordFailure(ctx context.Context, campaignID, contactID int, reason string) (*model.DeliveryRecord, error) {
	rec := &model.DeliveryRecord{
		CampaignID: campaignID,
		ContactID:  contactID,
		Status:     model.DeliveryFailed,
		LastError:  reason,
	}
	if err := l.Repo.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("record failure for contact %d: %w", contactID, err)
	}
	l.Notifier.DeliveryStatusChanged(ctx, campaignID, contactID, rec.Status)
	return rec, nil
}

// ApplyProviderStatus advances every record carrying providerMessageID. It
// returns how many records changed; unknown ids, repeats and regressions
// change nothing.
func (l *Ledger) ApplyProviderStatus(ctx context.Context, providerMessageID string, status model.DeliveryStatus) (int, error) {
	if providerMessageID == "" || !status.Valid() {
		return 0, nil
	}
	records, err := l.Repo.ListByProviderID(ctx, providerMessageID)
	if err != nil {
		return 0, fmt.Errorf("load records for %s: %w", providerMessageID, err)
	}

	changed := 0
	for _, rec := range records {
		if !rec.Status.CanAdvanceTo(status) {
			log.Debug().Str("provider_message_id", providerMessageID).Str("current", string(rec.Status)).Str("incoming", string(status)).Msg("Ignoring status update")
			continue
		}
		ok, err := l.Repo.UpdateStatus(ctx, rec.ID, rec.Status, status)
		if err != nil {
			return changed, fmt.Errorf("update record %d: %w", rec.ID, err)
		}
		if !ok {
			continue
		}
		changed++
		log.Info().Int("campaign_id", rec.CampaignID).Int("contact_id", rec.ContactID).Str("provider_message_id", providerMessageID).Str("status", string(status)).Msg("Delivery status updated")
		l.Notifier.DeliveryStatusChanged(ctx, rec.CampaignID, rec.ContactID, status)
	}
	return changed, nil
}

// ApplyReplyDetected marks the most recent open record for phone as
// responded. It returns nil when nothing matches.
func (l *Ledger) ApplyReplyDetected(ctx context.Context, phone string) (*model.DeliveryRecord, error) {
	digits := channel.DigitsOnly(phone)
	if len(digits) < repository.MinPhoneDigits {
		return nil, nil
	}
	rec, err := l.Repo.LatestOpenByPhone(ctx, digits)
	if err != nil {
		return nil, fmt.Errorf("find open record for %s: %w", digits, err)
	}
	if rec == nil || !rec.Status.CanAdvanceTo(model.DeliveryResponded) {
		return nil, nil
	}
	ok, err := l.Repo.UpdateStatus(ctx, rec.ID, rec.Status, model.DeliveryResponded)
	if err != nil {
		return nil, fmt.Errorf("update record %d: %w", rec.ID, err)
	}
	if !ok {
		return nil, nil
	}
	rec.Status = model.DeliveryResponded
	l.Notifier.DeliveryStatusChanged(ctx, rec.CampaignID, rec.ContactID, rec.Status)
	return rec, nil
}

// Aggregate rolls raw per-status counts into cumulative buckets: a read
// message was also delivered, a responded one was also read.
func (l *Ledger) Aggregate(ctx context.Context, campaignID int) (model.DeliveryStats, error) {
	counts, err := l.Repo.CountByStatus(ctx, campaignID)
	if err != nil {
		return model.DeliveryStats{}, err
	}
	return Cumulative(counts), nil
}

func Cumulative(counts map[model.DeliveryStatus]int) model.DeliveryStats {
	s := model.DeliveryStats{
		Submitted: counts[model.DeliverySubmitted],
		Sent:      counts[model.DeliverySent],
		Responded: counts[model.DeliveryResponded],
		Failed:    counts[model.DeliveryFailed],
	}
	s.Read = counts[model.DeliveryRead] + s.Responded
	s.Delivered = counts[model.DeliveryDelivered] + s.Read
	for _, n := range counts {
		s.Total += n
	}
	return s
}
