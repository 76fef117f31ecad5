package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"index-options-bot/internal/types"
)

const secret = "top-secret"

func postSignal(t *testing.T, s *Server, withSecret string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/signal", strings.NewReader(body))
	if withSecret != "" {
		req.Header.Set(SecretHeader, withSecret)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestRejectsBadSecret(t *testing.T) {
	q := make(chan types.TriggerEvent, 1)
	s := NewServer(secret, q)

	rec := postSignal(t, s, "wrong", `{"signal_type":"S1","action":"entry","strike":24600,"option_type":"PE"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(q) != 0 {
		t.Error("event enqueued despite bad secret")
	}
}

func TestAcceptsValidEvent(t *testing.T) {
	q := make(chan types.TriggerEvent, 1)
	s := NewServer(secret, q)

	rec := postSignal(t, s, secret, `{"signal_type":"S1","action":"entry","strike":24600,"option_type":"PE","underlying":"NIFTY"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}
	ev := <-q
	if ev.SignalType != types.S1 || ev.Strike != 24600 || ev.OptionType != types.OptionPut {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("missing timestamp was not defaulted")
	}
}

func TestRejectsMalformedEvents(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown signal", `{"signal_type":"S9","action":"entry","strike":24600,"option_type":"PE"}`},
		{"bad action", `{"signal_type":"S1","action":"flatten","strike":24600,"option_type":"PE"}`},
		{"zero strike", `{"signal_type":"S1","action":"entry","strike":0,"option_type":"PE"}`},
		{"bad option type", `{"signal_type":"S1","action":"entry","strike":24600,"option_type":"XX"}`},
		{"not json", `nope`},
	}
	q := make(chan types.TriggerEvent, 8)
	s := NewServer(secret, q)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postSignal(t, s, secret, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
	if len(q) != 0 {
		t.Errorf("%d invalid events enqueued", len(q))
	}
}

func TestQueueFullReturns503(t *testing.T) {
	q := make(chan types.TriggerEvent) // unbuffered, no consumer
	s := NewServer(secret, q)

	rec := postSignal(t, s, secret, `{"signal_type":"S2","action":"entry","strike":24700,"option_type":"PE"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
