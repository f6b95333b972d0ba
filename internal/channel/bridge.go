package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow/types"

	appErrors "github.com/unclebandit/wa-campaign-dispatch/internal/errors"
	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
)

const (
	bridgeSendPath          = "/internal-api/send-whatsapp"
	bridgeOnlineSendersPath = "/status/online-senders"
)

var ErrBridgeNotConfigured = errors.New("session bridge is not configured")

type BridgeConfig struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
}

// SessionBridge sends free text through a connected WhatsApp Web session.
// The bridge does not return a message id.
type SessionBridge struct {
	cfg    BridgeConfig
	client *resty.Client
}

func NewSessionBridge(cfg BridgeConfig) *SessionBridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)
	return &SessionBridge{cfg: cfg, client: client}
}

func (b *SessionBridge) Validate(c *model.Campaign) error {
	if strings.TrimSpace(c.ChannelInstanceRef) == "" {
		return appErrors.NewValidation("channel_instance_ref", "session bridge channel requires an instance")
	}
	if strings.TrimSpace(c.ContentBody()) == "" {
		return appErrors.NewValidation("custom_body", "session bridge channel requires a message body")
	}
	return nil
}

type bridgeRequest struct {
	InstanceID          any    `json:"instanceId"`
	RecipientIdentifier string `json:"recipientIdentifier"`
	MessageContent      string `json:"messageContent"`
}

// RecipientJID builds the user JID for a raw phone number.
func RecipientJID(phone string) types.JID {
	return types.NewJID(DigitsOnly(phone), types.DefaultUserServer)
}

func instanceID(ref string) any {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return n
	}
	return ref
}

func (b *SessionBridge) Send(ctx context.Context, dst Destination, content Content) Outcome {
	if b.cfg.BaseURL == "" || b.cfg.Secret == "" {
		return failure("session bridge is not configured")
	}
	if strings.TrimSpace(dst.InstanceRef) == "" {
		return failure("missing channel instance")
	}
	if DigitsOnly(dst.Phone) == "" {
		return failure("destination %q has no digits", dst.Phone)
	}
	if strings.TrimSpace(content.Text) == "" {
		return failure("empty message")
	}

	jid := RecipientJID(dst.Phone)
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("x-internal-api-secret", b.cfg.Secret).
		SetBody(bridgeRequest{
			InstanceID:          instanceID(dst.InstanceRef),
			RecipientIdentifier: jid.String(),
			MessageContent:      content.Text,
		}).
		Post(bridgeSendPath)
	if err != nil {
		log.Error().Err(err).Str("recipient", jid.String()).Msg("Session bridge request failed")
		return failure("bridge request: %v", err)
	}
	if !resp.IsSuccess() {
		log.Error().Int("statusCode", resp.StatusCode()).Str("recipient", jid.String()).Str("responseBody", truncate(resp.String(), 300)).Msg("Session bridge returned an error")
		return failure("bridge status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	log.Debug().Str("instance", dst.InstanceRef).Str("recipient", jid.String()).Msg("Session bridge accepted message")
	return Outcome{Success: true}
}

// OnlineSenders lists the sessions the bridge reports as connected. Entries
// are passed through as the bridge sends them.
func (b *SessionBridge) OnlineSenders(ctx context.Context) ([]json.RawMessage, error) {
	if b.cfg.BaseURL == "" || b.cfg.Secret == "" {
		return nil, ErrBridgeNotConfigured
	}
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("x-internal-api-secret", b.cfg.Secret).
		Get(bridgeOnlineSendersPath)
	if err != nil {
		return nil, fmt.Errorf("bridge request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("bridge status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	senders := []json.RawMessage{}
	if err := json.Unmarshal(resp.Body(), &senders); err != nil {
		return nil, fmt.Errorf("malformed online senders response: %w", err)
	}
	log.Debug().Int("count", len(senders)).Msg("Session bridge online senders")
	return senders, nil
}

var _ Channel = (*SessionBridge)(nil)
