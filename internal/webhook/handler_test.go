package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const testSecret = "my_test_secret"

type recordingDispatcher struct {
	mu      sync.Mutex
	updates []tgbotapi.Update
}

func (d *recordingDispatcher) HandleUpdate(_ context.Context, u tgbotapi.Update) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, u)
}

func newTestHandler() (*Handler, *recordingDispatcher) {
	d := &recordingDispatcher{}
	return NewHandler(testSecret, d), d
}

const samplePayload = `{"update_id":1001,"message":{"message_id":5,"date":0,"chat":{"id":-42,"type":"group"},"media_group_id":"G1","photo":[{"file_id":"p","file_unique_id":"up","width":1,"height":1}]}}`

func post(h http.Handler, body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestUpdate_ValidSecret(t *testing.T) {
	h, d := newTestHandler()

	rr := post(h, samplePayload, testSecret)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if len(d.updates) != 1 {
		t.Fatalf("expected one dispatched update, got %d", len(d.updates))
	}
	u := d.updates[0]
	if u.UpdateID != 1001 || u.Message == nil || u.Message.MediaGroupID != "G1" {
		t.Errorf("unexpected update %+v", u)
	}
}

func TestUpdate_InvalidSecret(t *testing.T) {
	h, d := newTestHandler()

	rr := post(h, samplePayload, "wrong_secret")

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
	if len(d.updates) != 0 {
		t.Error("rejected request must not dispatch")
	}
}

func TestUpdate_MissingSecret(t *testing.T) {
	h, _ := newTestHandler()

	rr := post(h, samplePayload, "")

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
}

func TestUpdate_NoSecretConfigured(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewHandler("", d)

	rr := post(h, samplePayload, "")

	if rr.Code != http.StatusOK || len(d.updates) != 1 {
		t.Errorf("expected accepted update, got status %d and %d updates", rr.Code, len(d.updates))
	}
}

func TestUpdate_EmptyBody(t *testing.T) {
	h, _ := newTestHandler()

	rr := post(h, "", testSecret)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestUpdate_BodyTooLarge(t *testing.T) {
	h, d := newTestHandler()

	rr := post(h, `{"update_id":1,"pad":"`+strings.Repeat("x", maxBodySize)+`"}`, testSecret)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status 413, got %d", rr.Code)
	}
	if len(d.updates) != 0 {
		t.Error("oversized body must not dispatch")
	}
}

func TestUpdate_MalformedJSONAcknowledged(t *testing.T) {
	h, d := newTestHandler()

	rr := post(h, `{"update_id":`, testSecret)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 so Telegram does not redeliver, got %d", rr.Code)
	}
	if len(d.updates) != 0 {
		t.Error("malformed body must not dispatch")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler()
	for _, method := range []string{http.MethodGet, http.MethodPut} {
		req := httptest.NewRequest(method, "/telegram/webhook", nil)
		rr := httptest.NewRecorder()

		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status 405, got %d", method, rr.Code)
		}
	}
}
