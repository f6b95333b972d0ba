// internal/handler/instance_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/wa-campaign-dispatch/internal/channel"
	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
	"github.com/unclebandit/wa-campaign-dispatch/internal/repository"
)

type InstanceStore interface {
	Upsert(ctx context.Context, inst *model.SenderInstance) error
}

type ContactFinder interface {
	FindByPhone(ctx context.Context, digits string) (*model.Contact, error)
}

type OnlineSenderSource interface {
	OnlineSenders(ctx context.Context) ([]json.RawMessage, error)
}

// InstanceHandler serves the session bridge: instance status reports, the
// online sender list and contact lookups by phone.
type InstanceHandler struct {
	Instances InstanceStore
	Contacts  ContactFinder
	Bridge    OnlineSenderSource
}

type instanceStatusRequest struct {
	ChatwootInboxID any    `json:"chatwootInboxId"`
	InstanceName    string `json:"instanceName"`
	WhatsappNumber  any    `json:"whatsappNumber"`
	Status          string `json:"status"`
}

// ReportStatus upserts the instance behind a Chatwoot inbox.
func (h *InstanceHandler) ReportStatus(w http.ResponseWriter, r *http.Request) {
	var body instanceStatusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	inboxID, err := strconv.Atoi(scalarString(body.ChatwootInboxID))
	status := strings.ToUpper(strings.TrimSpace(body.Status))
	if err != nil || inboxID <= 0 || status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chatwootInboxId and status are required"})
		return
	}

	inst := &model.SenderInstance{
		ChatwootInboxID: inboxID,
		InstanceName:    strings.TrimSpace(body.InstanceName),
		Status:          status,
	}
	if number := scalarString(body.WhatsappNumber); number != "" {
		inst.WhatsappNumber = &number
	}

	if err := h.Instances.Upsert(r.Context(), inst); err != nil {
		log.Error().Err(err).Int("inbox_id", inboxID).Msg("Failed to store instance status")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	log.Info().Int("instance_id", inst.ID).Int("inbox_id", inboxID).Str("status", status).Msg("Instance status updated")
	writeJSON(w, http.StatusOK, inst)
}

// OnlineSenders relays the bridge's list of connected sessions.
func (h *InstanceHandler) OnlineSenders(w http.ResponseWriter, r *http.Request) {
	senders, err := h.Bridge.OnlineSenders(r.Context())
	switch {
	case errors.Is(err, channel.ErrBridgeNotConfigured):
		log.Error().Msg("Session bridge url or secret not configured")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server configuration error"})
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to fetch online senders")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "session bridge unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, senders)
}

// ContactByPhone returns the data of the contact whose phone ends with the
// given digits.
func (h *InstanceHandler) ContactByPhone(w http.ResponseWriter, r *http.Request) {
	digits := channel.DigitsOnly(chi.URLParam(r, "phone"))
	if len(digits) < repository.MinPhoneDigits {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone must have at least 8 digits"})
		return
	}

	contact, err := h.Contacts.FindByPhone(r.Context(), digits)
	if err != nil {
		log.Error().Err(err).Str("phone", digits).Msg("Contact lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if contact == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "contact not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": contact.Data})
}
