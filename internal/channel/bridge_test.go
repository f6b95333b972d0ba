package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
)

func TestSessionBridgeSend(t *testing.T) {
	var secret string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, bridgeSendPath, r.URL.Path)
		secret = r.Header.Get("x-internal-api-secret")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewSessionBridge(BridgeConfig{BaseURL: srv.URL, Secret: "s3cret"})
	out := b.Send(context.Background(), Destination{Phone: "+55 11 98888-7777", InstanceRef: "42"}, Content{Text: "Olá Ana"})

	require.True(t, out.Success, out.Error)
	assert.Empty(t, out.ProviderMessageID)
	assert.Equal(t, "s3cret", secret)
	assert.Equal(t, float64(42), body["instanceId"])
	assert.Equal(t, "5511988887777@s.whatsapp.net", body["recipientIdentifier"])
	assert.Equal(t, "Olá Ana", body["messageContent"])
}

func TestSessionBridgeSendNonNumericInstance(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	b := NewSessionBridge(BridgeConfig{BaseURL: srv.URL, Secret: "s"})
	out := b.Send(context.Background(), Destination{Phone: "5511988887777", InstanceRef: "inbox-a"}, Content{Text: "hi"})
	require.True(t, out.Success)
	assert.Equal(t, "inbox-a", body["instanceId"])
}

func TestSessionBridgeSendFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "instance offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	b := NewSessionBridge(BridgeConfig{BaseURL: srv.URL, Secret: "s"})

	out := b.Send(context.Background(), Destination{Phone: "5511988887777", InstanceRef: "1"}, Content{Text: "hi"})
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "503")

	out = b.Send(context.Background(), Destination{Phone: "5511988887777", InstanceRef: "1"}, Content{Text: "  "})
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "empty message")

	out = b.Send(context.Background(), Destination{Phone: "5511988887777"}, Content{Text: "hi"})
	assert.False(t, out.Success)

	unconfigured := NewSessionBridge(BridgeConfig{})
	out = unconfigured.Send(context.Background(), Destination{Phone: "5511988887777", InstanceRef: "1"}, Content{Text: "hi"})
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "not configured")
}

func TestSessionBridgeValidate(t *testing.T) {
	b := NewSessionBridge(BridgeConfig{})
	assert.Error(t, b.Validate(&model.Campaign{CustomBody: "hi"}))
	assert.NoError(t, b.Validate(&model.Campaign{CustomBody: "hi", ChannelInstanceRef: "1"}))
	assert.NoError(t, b.Validate(&model.Campaign{ChannelInstanceRef: "1", Template: &model.Template{Body: "Olá {{1}}"}}))
}

func TestRegistryResolve(t *testing.T) {
	g := NewGupshup(GupshupConfig{})
	r := Registry{model.ChannelOfficialTemplate: g}

	ch, err := r.Resolve("")
	require.NoError(t, err)
	assert.Same(t, g, ch)

	_, err = r.Resolve(model.ChannelSessionBridge)
	assert.Error(t, err)
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "5511988887777", DigitsOnly("+55 (11) 98888-7777"))
	assert.Equal(t, "", DigitsOnly("n/a"))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "curto", truncate("  curto  ", 10))
	assert.Equal(t, "exato", truncate("exato", 5))

	got := truncate("Número inválido ção", 2)
	assert.Equal(t, "Nú...", got)
	assert.True(t, utf8.ValidString(got))

	got = truncate(strings.Repeat("ã", 300), 200)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 200, utf8.RuneCountInString(strings.TrimSuffix(got, "...")))
}

func TestSessionBridgeOnlineSenders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, bridgeOnlineSendersPath, r.URL.Path)
		assert.Equal(t, "s3cret", r.Header.Get("x-internal-api-secret"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"instanceId":7,"number":"5511900001111"},{"instanceId":9}]`))
	}))
	defer srv.Close()

	b := NewSessionBridge(BridgeConfig{BaseURL: srv.URL, Secret: "s3cret"})
	senders, err := b.OnlineSenders(context.Background())
	require.NoError(t, err)
	require.Len(t, senders, 2)
	assert.JSONEq(t, `{"instanceId":9}`, string(senders[1]))
}

func TestSessionBridgeOnlineSendersFailures(t *testing.T) {
	_, err := NewSessionBridge(BridgeConfig{}).OnlineSenders(context.Background())
	assert.ErrorIs(t, err, ErrBridgeNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "indisponível", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err = NewSessionBridge(BridgeConfig{BaseURL: srv.URL, Secret: "s"}).OnlineSenders(context.Background())
	assert.ErrorContains(t, err, "bridge status 502")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"a list"}`))
	}))
	defer bad.Close()

	_, err = NewSessionBridge(BridgeConfig{BaseURL: bad.URL, Secret: "s"}).OnlineSenders(context.Background())
	assert.ErrorContains(t, err, "malformed")
}
