package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"sheetlog/internal"
)

// mockSink is a RowSink double recording appended rows.
type mockSink struct {
	mu        sync.Mutex
	rows      [][]string
	appendErr error
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Append(_ context.Context, row []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	m.rows = append(m.rows, row)
	return 1, nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *mockSink) row(i int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[i]
}

func newTestHandler(t *testing.T, secret string, exclude *internal.ExclusionEngine, sink internal.RowSink) *SlackHandler {
	t.Helper()
	handler, err := NewSlackHandler(secret, exclude, internal.NewExtractor(nil), sink, nil, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatalf("new slack handler: %v", err)
	}
	return handler
}

func postEvent(handler http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)
	return rec
}

// TestChallengePassthrough tests that URL verification echoes the
// challenge and never reaches the sink.
func TestChallengePassthrough(t *testing.T) {
	sink := &mockSink{}
	handler := newTestHandler(t, "", nil, sink)

	rec := postEvent(handler, `{"type": "url_verification", "challenge": "xyz"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["challenge"] != "xyz" {
		t.Fatalf("expected challenge echo, got %q", body["challenge"])
	}
	if sink.count() != 0 {
		t.Fatalf("expected no sink call for verification")
	}
}

// TestIgnoresNonMessageEvents tests that non-message events succeed
// without side effects.
func TestIgnoresNonMessageEvents(t *testing.T) {
	sink := &mockSink{}
	handler := newTestHandler(t, "", nil, sink)

	rec := postEvent(handler, `{"type": "event_callback", "event": {"type": "reaction_added"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sink.count() != 0 {
		t.Fatalf("expected no sink call for non-message event")
	}
}

// TestNotRelevantSkipsSink tests that messages without keywords respond
// success with no append.
func TestNotRelevantSkipsSink(t *testing.T) {
	sink := &mockSink{}
	handler := newTestHandler(t, "", nil, sink)

	rec := postEvent(handler, `{"type": "event_callback", "event": {"type": "message", "text": "lunch anyone?", "user": "U1", "channel": "C1"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sink.count() != 0 {
		t.Fatalf("expected no sink call for irrelevant message")
	}
}

// TestRelevantMessageAppendsRow tests the happy path end to end: a keyword
// message becomes one 14-column row with identity and parsed fields.
func TestRelevantMessageAppendsRow(t *testing.T) {
	sink := &mockSink{}
	handler := newTestHandler(t, "", nil, sink)

	rec := postEvent(handler, `{"type": "event_callback", "event": {"type": "message", "text": "oncall\nsummary: db outage", "user": "U1", "channel": "C1"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sink.count() != 1 {
		t.Fatalf("expected one appended row, got %d", sink.count())
	}

	row := sink.row(0)
	if len(row) != 14 {
		t.Fatalf("expected 14 columns, got %d", len(row))
	}
	if row[2] != "U1" || row[3] != "C1" {
		t.Fatalf("unexpected identity columns: %q/%q", row[2], row[3])
	}
	if row[11] != "db outage" {
		t.Fatalf("unexpected summary column: %q", row[11])
	}
}

// TestEditedMessageUsesNewText tests that message_changed events extract
// from the edited text.
func TestEditedMessageUsesNewText(t *testing.T) {
	sink := &mockSink{}
	handler := newTestHandler(t, "", nil, sink)

	body := `{"type": "event_callback", "event": {
		"type": "message", "subtype": "message_changed",
		"channel": "C1", "user": "U1",
		"message": {"text": "oncall\nsummary: updated"},
		"previous_message": {"text": "oncall\nsummary: original"}
	}}`
	rec := postEvent(handler, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sink.count() != 1 {
		t.Fatalf("expected one appended row, got %d", sink.count())
	}
	if got := sink.row(0)[11]; got != "updated" {
		t.Fatalf("expected edited summary, got %q", got)
	}
}

// TestSinkFailureReturnsServerError tests that an append failure surfaces
// as 500 with the reason, so the platform retries the event.
func TestSinkFailureReturnsServerError(t *testing.T) {
	sink := &mockSink{appendErr: &internal.SinkError{Message: "quota exceeded", StatusCode: 429}}
	handler := newTestHandler(t, "", nil, sink)

	rec := postEvent(handler, `{"type": "event_callback", "event": {"type": "message", "text": "oncall", "user": "U1", "channel": "C1"}}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error body, got %v", body)
	}
}

// TestExclusionRuleDropsEvent tests that a configured rule drops the event
// before extraction.
func TestExclusionRuleDropsEvent(t *testing.T) {
	exclude, err := internal.NewExclusionEngine([]internal.ExclusionRule{
		{Name: "bots", When: `[event.bot_id] != ""`},
	}, nil)
	if err != nil {
		t.Fatalf("new exclusion engine: %v", err)
	}

	sink := &mockSink{}
	handler := newTestHandler(t, "", exclude, sink)

	rec := postEvent(handler, `{"type": "event_callback", "event": {"type": "message", "text": "oncall", "bot_id": "B1", "user": "U1", "channel": "C1"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sink.count() != 0 {
		t.Fatalf("expected excluded event to skip the sink")
	}
}

// TestRejectsBadSignature tests that a wrong signature is rejected before
// the pipeline runs.
func TestRejectsBadSignature(t *testing.T) {
	sink := &mockSink{}
	handler := newTestHandler(t, "secret", nil, sink)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewBufferString(`{"type": "url_verification", "challenge": "xyz"}`))
	req.Header.Set(timestampHeader, strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set(signatureHeader, "v0=deadbeef")
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if sink.count() != 0 {
		t.Fatalf("expected no sink call on rejected signature")
	}
}

// TestAcceptsValidSignature tests the verified happy path.
func TestAcceptsValidSignature(t *testing.T) {
	const secret = "secret"
	sink := &mockSink{}
	handler := newTestHandler(t, secret, nil, sink)

	body := `{"type": "event_callback", "event": {"type": "message", "text": "oncall", "user": "U1", "channel": "C1"}}`
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewBufferString(body))
	req.Header.Set(timestampHeader, ts)
	req.Header.Set(signatureHeader, "v0="+hex.EncodeToString(mac.Sum(nil)))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sink.count() != 1 {
		t.Fatalf("expected one appended row, got %d", sink.count())
	}
}

// TestRejectsNonPost tests that only POST is served.
func TestRejectsNonPost(t *testing.T) {
	handler := newTestHandler(t, "", nil, &mockSink{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slack/events", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

// TestRejectsMalformedBody tests that undecodable callbacks get 400.
func TestRejectsMalformedBody(t *testing.T) {
	handler := newTestHandler(t, "", nil, &mockSink{})

	rec := postEvent(handler, `{"type": "event_callback", "event": `)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
