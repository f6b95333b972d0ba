package channel

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/wa-campaign-dispatch/internal/errors"
	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
)

const gupshupTemplatePath = "/wa/api/v1/template/msg"

type GupshupConfig struct {
	BaseURL      string
	APIKey       string
	AppName      string
	SourceNumber string
	Timeout      time.Duration
	// RequestsPerSecond caps provider calls; zero disables the limiter.
	RequestsPerSecond float64
}

// Gupshup sends approved templates through the official WhatsApp provider.
type Gupshup struct {
	cfg     GupshupConfig
	client  *resty.Client
	limiter *rate.Limiter
}

func NewGupshup(cfg GupshupConfig) *Gupshup {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)

	g := &Gupshup{cfg: cfg, client: client}
	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	log.Info().Str("baseURL", cfg.BaseURL).Str("appName", cfg.AppName).Msg("Gupshup channel configured")
	return g
}

func (g *Gupshup) Validate(c *model.Campaign) error {
	if c.Template == nil {
		return appErrors.NewValidation("template_id", "official template channel requires a template")
	}
	if strings.TrimSpace(c.Template.ProviderTemplateID) == "" {
		return appErrors.NewValidation("template_id", "template has no provider template id")
	}
	return nil
}

type gupshupTemplate struct {
	ID     string   `json:"id"`
	Params []string `json:"params"`
}

type gupshupResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
}

func (g *Gupshup) Send(ctx context.Context, dst Destination, content Content) Outcome {
	if g.cfg.APIKey == "" || g.cfg.AppName == "" || g.cfg.SourceNumber == "" {
		return failure("gupshup credentials are not configured")
	}
	destination := DigitsOnly(dst.Phone)
	if destination == "" {
		return failure("destination %q has no digits", dst.Phone)
	}
	if content.TemplateID == "" {
		return failure("missing provider template id")
	}

	params := content.Params
	if params == nil {
		params = []string{}
	}
	tpl, err := json.Marshal(gupshupTemplate{ID: content.TemplateID, Params: params})
	if err != nil {
		return failure("encode template: %v", err)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return failure("rate limiter: %v", err)
		}
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("apikey", g.cfg.APIKey).
		SetFormData(map[string]string{
			"channel":     "whatsapp",
			"source":      g.cfg.SourceNumber,
			"destination": destination,
			"src.name":    g.cfg.AppName,
			"template":    string(tpl),
		}).
		Post(gupshupTemplatePath)
	if err != nil {
		log.Error().Err(err).Str("destination", destination).Msg("Gupshup request failed")
		return failure("gupshup request: %v", err)
	}
	if !resp.IsSuccess() {
		log.Error().Int("statusCode", resp.StatusCode()).Str("destination", destination).Str("responseBody", truncate(resp.String(), 300)).Msg("Gupshup returned an error")
		return failure("gupshup status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	var body gupshupResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return failure("gupshup malformed response: %v", err)
	}
	if body.MessageID == "" {
		return failure("gupshup response has no messageId: %s", truncate(resp.String(), 200))
	}

	log.Debug().Str("destination", destination).Str("provider_message_id", body.MessageID).Msg("Gupshup accepted message")
	return Outcome{Success: true, ProviderMessageID: body.MessageID}
}

var _ Channel = (*Gupshup)(nil)
