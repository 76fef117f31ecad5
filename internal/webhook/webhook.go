package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"index-options-bot/internal/logger"
	"index-options-bot/internal/types"
)

// SecretHeader carries the shared secret on incoming trigger requests.
const SecretHeader = "X-Webhook-Secret"

// Server accepts externally pushed trigger events, validates the shared
// secret, and forwards them to a bounded queue. When the queue is full the
// request is rejected rather than blocking the HTTP handler.
type Server struct {
	secret string
	queue  chan<- types.TriggerEvent
	mux    *http.ServeMux
}

func NewServer(secret string, queue chan<- types.TriggerEvent) *Server {
	s := &Server{secret: secret, queue: queue, mux: http.NewServeMux()}
	s.mux.HandleFunc("/webhook/signal", s.handleSignal)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(s.secret)) != 1 {
		logger.Warn(ctx, "Webhook rejected, bad secret",
			"event", "WEBHOOK_AUTH_FAILED",
			"remote", r.RemoteAddr,
		)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var ev types.TriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if err := validate(ev); err != "" {
		logger.Warn(ctx, "Webhook rejected, invalid event", "reason", err)
		http.Error(w, err, http.StatusBadRequest)
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case s.queue <- ev:
		logger.Info(ctx, "Trigger accepted",
			"signal", ev.SignalType,
			"action", ev.Action,
			"strike", ev.Strike,
			"option_type", ev.OptionType,
		)
		w.WriteHeader(http.StatusAccepted)
	default:
		logger.Error(ctx, "Trigger queue full, dropping event",
			"event", "TRIGGER_QUEUE_FULL",
			"signal", ev.SignalType,
		)
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}
}

func validate(ev types.TriggerEvent) string {
	switch ev.SignalType {
	case types.S1, types.S2, types.S3, types.S4, types.S5, types.S6, types.S7, types.S8:
	default:
		return "unknown signal_type"
	}
	if ev.Action != types.ActionEntry && ev.Action != types.ActionExit {
		return "action must be entry or exit"
	}
	if ev.OptionType != types.OptionCall && ev.OptionType != types.OptionPut {
		return "option_type must be CE or PE"
	}
	if ev.Strike <= 0 {
		return "strike must be positive"
	}
	return ""
}
