// internal/handler/webhook_handler.go
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
)

const maxWebhookBody = 1 << 20

// StatusLedger is what the webhooks need from the delivery ledger.
type StatusLedger interface {
	ApplyProviderStatus(ctx context.Context, providerMessageID string, status model.DeliveryStatus) (int, error)
	ApplyReplyDetected(ctx context.Context, phone string) (*model.DeliveryRecord, error)
}

// WebhookHandler receives provider status callbacks and bridge reply
// notifications.
type WebhookHandler struct {
	Ledger StatusLedger
	// Debug logs every raw status payload.
	Debug bool
	seen  *cache.Cache
}

func NewWebhookHandler(ledger StatusLedger, debug bool) *WebhookHandler {
	return &WebhookHandler{
		Ledger: ledger,
		Debug:  debug,
		seen:   cache.New(10*time.Minute, 20*time.Minute),
	}
}

type providerStatus struct {
	GsID   string `json:"gs_id"`
	ID     string `json:"id"`
	Status string `json:"status"`
}

type statusEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []providerStatus `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// GupshupStatus applies every status in the envelope. The provider retries
// anything but 200, so the response is always 200.
func (h *WebhookHandler) GupshupStatus(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read status webhook")
		return
	}
	if h.Debug {
		ev := log.Info().Str("webhook", "gupshup-status")
		if json.Valid(raw) {
			ev = ev.RawJSON("payload", raw)
		} else {
			ev = ev.Str("payload", string(raw))
		}
		ev.Msg("Webhook payload")
	}

	var env statusEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Msg("Malformed status webhook")
		return
	}

	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				h.applyStatus(r.Context(), st)
			}
		}
	}
}

func (h *WebhookHandler) applyStatus(ctx context.Context, st providerStatus) {
	id := st.GsID
	if id == "" {
		id = st.ID
	}
	status, ok := model.ParseDeliveryStatus(st.Status)
	if id == "" || !ok {
		log.Debug().Str("provider_message_id", id).Str("status", st.Status).Msg("Ignoring status callback")
		return
	}

	key := id + ":" + string(status)
	if err := h.seen.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		log.Debug().Str("provider_message_id", id).Str("status", string(status)).Msg("Duplicate status callback")
		return
	}

	changed, err := h.Ledger.ApplyProviderStatus(ctx, id, status)
	if err != nil {
		h.seen.Delete(key)
		log.Error().Err(err).Str("provider_message_id", id).Str("status", string(status)).Msg("Failed to apply provider status")
		return
	}
	log.Info().Str("provider_message_id", id).Str("status", string(status)).Int("changed", changed).Msg("Provider status received")
}

type replyRequest struct {
	PhoneNumber any `json:"phoneNumber"`
}

func scalarString(v any) string {
	switch p := v.(type) {
	case string:
		return strings.TrimSpace(p)
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64)
	default:
		return ""
	}
}

// ContactReply marks the latest open delivery to the phone as responded.
func (h *WebhookHandler) ContactReply(w http.ResponseWriter, r *http.Request) {
	var body replyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	phone := scalarString(body.PhoneNumber)
	if phone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phoneNumber is required"})
		return
	}

	rec, err := h.Ledger.ApplyReplyDetected(r.Context(), phone)
	if err != nil {
		log.Error().Err(err).Str("phone", phone).Msg("Failed to apply contact reply")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if rec == nil {
		log.Info().Str("phone", phone).Msg("No open delivery for reply")
	} else {
		log.Info().Int("campaign_id", rec.CampaignID).Int("contact_id", rec.ContactID).Msg("Contact replied")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "reply received",
		"matched": rec != nil,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
