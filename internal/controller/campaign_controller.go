// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/wa-campaign-dispatch/internal/auth"
	appErrors "github.com/unclebandit/wa-campaign-dispatch/internal/errors"
	"github.com/unclebandit/wa-campaign-dispatch/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

// Routes mounts the campaign API. Callers must wrap it with auth.Middleware.
func (c *CampaignController) Routes(r chi.Router) {
	r.Get("/", c.ListCampaigns)
	r.Post("/", c.CreateCampaign)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", c.GetCampaignDetails)
		r.Delete("/", c.DeleteCampaign)
		r.Post("/send-manual", c.SendCampaign)
		r.Get("/report", c.Report)
		r.Post("/personalized-preview", c.PersonalizedPreview)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound   *appErrors.ErrCampaignNotFound
		validation *appErrors.ValidationError
		transition *appErrors.ErrInvalidTransition
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &transition), errors.Is(err, appErrors.ErrCampaignInFlight):
		status = http.StatusConflict
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
	}
	return p, ok
}

func campaignID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid campaign id"})
		return 0, false
	}
	return id, true
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	var body struct {
		ContactID        int     `json:"contact_id"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	rendered, err := c.CampaignService.RenderPreview(r.Context(), p, id, body.ContactID, body.OverrideTemplate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rendered_message": rendered,
		"used_template":    body.OverrideTemplate,
		"contact_id":       body.ContactID,
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var body service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), p, body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	// Parse query parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), p, page, pageSize, channel, status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // page, page_size, total_count, total_pages
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := c.CampaignService.GetCampaignDetails(r.Context(), p, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

// SendCampaign queues the campaign for the next scheduler poll.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := c.CampaignService.SendNow(r.Context(), p, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "campaign scheduled for sending",
		"campaign": campaign,
	})
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	if err := c.CampaignService.DeleteCampaign(r.Context(), p, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "campaign deleted"})
}

func (c *CampaignController) Report(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	report, err := c.CampaignService.Report(r.Context(), p, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
