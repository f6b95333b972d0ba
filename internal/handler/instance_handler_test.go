package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wa-campaign-dispatch/internal/channel"
	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
)

type mockInstances struct {
	stored []model.SenderInstance
	err    error
}

func (m *mockInstances) Upsert(_ context.Context, inst *model.SenderInstance) error {
	if m.err != nil {
		return m.err
	}
	inst.ID = len(m.stored) + 1
	if inst.InstanceName == "" {
		inst.InstanceName = "Instancia-3"
	}
	m.stored = append(m.stored, *inst)
	return nil
}

type mockContacts struct {
	contact *model.Contact
	lookups []string
}

func (m *mockContacts) FindByPhone(_ context.Context, digits string) (*model.Contact, error) {
	m.lookups = append(m.lookups, digits)
	return m.contact, nil
}

type mockBridge struct {
	senders []json.RawMessage
	err     error
}

func (m *mockBridge) OnlineSenders(context.Context) ([]json.RawMessage, error) {
	return m.senders, m.err
}

func instanceRouter(h *InstanceHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/instances/status", h.ReportStatus)
	r.Get("/api/senders/baileys-online", h.OnlineSenders)
	r.Get("/api/contacts/by-phone/{phone}", h.ContactByPhone)
	return r
}

func TestReportInstanceStatus(t *testing.T) {
	store := &mockInstances{}
	h := instanceRouter(&InstanceHandler{Instances: store})

	req := httptest.NewRequest(http.MethodPost, "/api/instances/status",
		strings.NewReader(`{"chatwootInboxId":"3","whatsappNumber":5511900001111,"status":"connected"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, store.stored, 1)
	inst := store.stored[0]
	assert.Equal(t, 3, inst.ChatwootInboxID)
	assert.Equal(t, model.InstanceConnected, inst.Status)
	require.NotNil(t, inst.WhatsappNumber)
	assert.Equal(t, "5511900001111", *inst.WhatsappNumber)
	assert.Contains(t, w.Body.String(), `"instance_name":"Instancia-3"`)
}

func TestReportInstanceStatusRejectsIncompleteBody(t *testing.T) {
	for _, body := range []string{
		`{"status":"CONNECTED"}`,
		`{"chatwootInboxId":"abc","status":"CONNECTED"}`,
		`{"chatwootInboxId":3}`,
		`not json`,
	} {
		store := &mockInstances{}
		w := httptest.NewRecorder()
		instanceRouter(&InstanceHandler{Instances: store}).ServeHTTP(w,
			httptest.NewRequest(http.MethodPost, "/api/instances/status", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Empty(t, store.stored)
	}

	w := httptest.NewRecorder()
	instanceRouter(&InstanceHandler{Instances: &mockInstances{err: errors.New("db down")}}).ServeHTTP(w,
		httptest.NewRequest(http.MethodPost, "/api/instances/status", strings.NewReader(`{"chatwootInboxId":3,"status":"CONNECTED"}`)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestOnlineSenders(t *testing.T) {
	bridge := &mockBridge{senders: []json.RawMessage{json.RawMessage(`{"instanceId":7}`)}}
	w := httptest.NewRecorder()
	instanceRouter(&InstanceHandler{Bridge: bridge}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/senders/baileys-online", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"instanceId":7}]`, w.Body.String())

	bridge.err = channel.ErrBridgeNotConfigured
	w = httptest.NewRecorder()
	instanceRouter(&InstanceHandler{Bridge: bridge}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/senders/baileys-online", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	bridge.err = errors.New("connection refused")
	w = httptest.NewRecorder()
	instanceRouter(&InstanceHandler{Bridge: bridge}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/senders/baileys-online", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestContactByPhone(t *testing.T) {
	contacts := &mockContacts{contact: &model.Contact{ID: 4, Phone: "5511988887777", Data: model.StringMap{"nome": "Ana"}}}
	h := instanceRouter(&InstanceHandler{Contacts: contacts})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/contacts/by-phone/+55-11-98888-7777", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"data":{"nome":"Ana"}}`, w.Body.String())
	assert.Equal(t, []string{"5511988887777"}, contacts.lookups)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/contacts/by-phone/7777", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, contacts.lookups, 1)

	contacts.contact = nil
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/contacts/by-phone/11988887777", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
