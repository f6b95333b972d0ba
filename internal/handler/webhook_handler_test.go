package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
)

type applied struct {
	id     string
	status model.DeliveryStatus
}

type mockLedger struct {
	statuses []applied
	replies  []string
	match    *model.DeliveryRecord
	err      error
}

func (m *mockLedger) ApplyProviderStatus(_ context.Context, id string, s model.DeliveryStatus) (int, error) {
	m.statuses = append(m.statuses, applied{id, s})
	if m.err != nil {
		return 0, m.err
	}
	return 1, nil
}

func (m *mockLedger) ApplyReplyDetected(_ context.Context, phone string) (*model.DeliveryRecord, error) {
	m.replies = append(m.replies, phone)
	return m.match, m.err
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestGupshupStatusAppliesEveryStatus(t *testing.T) {
	ledger := &mockLedger{}
	h := NewWebhookHandler(ledger, true)

	rr := post(h.GupshupStatus, `{"entry":[{"changes":[{"value":{"statuses":[
		{"gs_id":"gs-1","status":"delivered"},
		{"id":"wamid-2","status":"read"},
		{"gs_id":"gs-3","status":"enqueued"}
	]}}]}]}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []applied{
		{"gs-1", model.DeliveryDelivered},
		{"wamid-2", model.DeliveryRead},
		{"gs-3", model.DeliverySubmitted},
	}, ledger.statuses)
}

func TestGupshupStatusIgnoresGarbage(t *testing.T) {
	ledger := &mockLedger{}
	h := NewWebhookHandler(ledger, false)

	for _, body := range []string{
		`not json`,
		`{}`,
		`{"entry":[{"changes":[{"value":{"statuses":[{"gs_id":"gs-1","status":"teleported"}]}}]}]}`,
		`{"entry":[{"changes":[{"value":{"statuses":[{"status":"read"}]}}]}]}`,
	} {
		rr := post(h.GupshupStatus, body)
		assert.Equal(t, http.StatusOK, rr.Code, body)
	}
	assert.Empty(t, ledger.statuses)
}

func TestGupshupStatusSuppressesDuplicates(t *testing.T) {
	ledger := &mockLedger{}
	h := NewWebhookHandler(ledger, false)
	body := `{"entry":[{"changes":[{"value":{"statuses":[{"gs_id":"gs-1","status":"read"}]}}]}]}`

	post(h.GupshupStatus, body)
	post(h.GupshupStatus, body)
	assert.Len(t, ledger.statuses, 1)
}

func TestGupshupStatusRetriesAfterLedgerError(t *testing.T) {
	ledger := &mockLedger{err: errors.New("db down")}
	h := NewWebhookHandler(ledger, false)
	body := `{"entry":[{"changes":[{"value":{"statuses":[{"gs_id":"gs-1","status":"read"}]}}]}]}`

	rr := post(h.GupshupStatus, body)
	assert.Equal(t, http.StatusOK, rr.Code)

	ledger.err = nil
	post(h.GupshupStatus, body)
	assert.Len(t, ledger.statuses, 2)
}

func TestContactReply(t *testing.T) {
	ledger := &mockLedger{match: &model.DeliveryRecord{CampaignID: 4, ContactID: 9}}
	h := NewWebhookHandler(ledger, false)

	rr := post(h.ContactReply, `{"phoneNumber":"+55 11 98888-7777"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"matched":true`)

	rr = post(h.ContactReply, `{"phoneNumber":5511988887777}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"+55 11 98888-7777", "5511988887777"}, ledger.replies)

	ledger.match = nil
	rr = post(h.ContactReply, `{"phoneNumber":"5599999999999"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"matched":false`)
}

func TestContactReplyRequiresPhone(t *testing.T) {
	ledger := &mockLedger{}
	h := NewWebhookHandler(ledger, false)

	assert.Equal(t, http.StatusBadRequest, post(h.ContactReply, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(h.ContactReply, `{"phoneNumber":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(h.ContactReply, `nope`).Code)
	assert.Empty(t, ledger.replies)

	ledger.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, post(h.ContactReply, `{"phoneNumber":"5511988887777"}`).Code)
}
