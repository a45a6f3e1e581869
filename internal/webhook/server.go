// Package webhook exposes the HTTP surface external services call into:
// generic signed webhooks, home-automation callbacks and Gmail push
// notifications. Every route decodes its payload into an events.Event and
// hands it to the Router; delivery to an agent's queue is the Router's job,
// not this package's.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/outpostlabs/conduit/internal/events"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Server serves the webhook HTTP surface described in §6: one generic
// signed route per agent, a pair of unsigned home-automation routes, and a
// shared Gmail push-notification route.
type Server struct {
	router  *events.Router
	secrets map[string]string // agentID -> webhook secret, empty means unsigned
	logger  *slog.Logger
}

// NewServer builds a Server that dispatches every decoded event through
// router. secrets maps agentID to its configured webhook secret; an agent
// absent from the map, or mapped to "", accepts unsigned requests.
func NewServer(router *events.Router, secrets map[string]string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if secrets == nil {
		secrets = map[string]string{}
	}
	return &Server{router: router, secrets: secrets, logger: logger.With("component", "webhook")}
}

// Handler builds the net/http.ServeMux routing table. No external router
// dependency: path parsing for the ":agentId" segments is done by hand.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/webhooks/gmail/push", s.handleGmailPush)
	mux.HandleFunc("/api/webhooks/", s.handleAgentRoute)
	return mux
}

func (s *Server) handleAgentRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/webhooks/")
	rest = strings.Trim(rest, "/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	agentID := parts[0]

	switch {
	case len(parts) == 1:
		s.handleGeneric(w, r, agentID)
	case len(parts) == 2 && parts[1] == "ha":
		s.handleHomeAutomation(w, r, agentID)
	case len(parts) == 3 && parts[1] == "ha" && parts[2] == "state":
		s.handleHomeAutomationState(w, r, agentID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGeneric(w http.ResponseWriter, r *http.Request, agentID string) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	secret := s.secrets[agentID]
	if secret != "" && !verifySignature(r, body, secret) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	data, err := decodeJSONObject(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	source, eventType := detectSource(r)
	s.dispatch(w, r, &events.Event{
		ID:             uuid.NewString(),
		Source:         source,
		EventType:      eventType,
		TargetAgentIDs: []string{agentID},
		Data:           data,
		Timestamp:      time.Now(),
		Priority:       events.PriorityNormal,
	})
}

func (s *Server) handleHomeAutomation(w http.ResponseWriter, r *http.Request, agentID string) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := decodeJSONObject(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.dispatch(w, r, &events.Event{
		ID:             uuid.NewString(),
		Source:         "home_automation",
		EventType:      "automation",
		TargetAgentIDs: []string{agentID},
		Data:           data,
		Timestamp:      time.Now(),
		Priority:       events.PriorityNormal,
	})
}

func (s *Server) handleHomeAutomationState(w http.ResponseWriter, r *http.Request, agentID string) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := decodeJSONObject(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := data["entity_id"]; !ok {
		http.Error(w, "missing entity_id", http.StatusBadRequest)
		return
	}

	s.dispatch(w, r, &events.Event{
		ID:             uuid.NewString(),
		Source:         "home_automation",
		EventType:      "state_changed",
		TargetAgentIDs: []string{agentID},
		Data:           data,
		Timestamp:      time.Now(),
		Priority:       events.PriorityNormal,
	})
}

// gmailPushEnvelope is the standard Cloud Pub/Sub push envelope Gmail
// watch notifications arrive in.
type gmailPushEnvelope struct {
	Message struct {
		Data       string            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func (s *Server) handleGmailPush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var envelope gmailPushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "invalid pub/sub envelope", http.StatusBadRequest)
		return
	}

	data := map[string]any{
		"subscription": envelope.Subscription,
		"message_id":   envelope.Message.MessageID,
		"attributes":   envelope.Message.Attributes,
	}
	if raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data); err == nil {
		var decoded map[string]any
		if json.Unmarshal(raw, &decoded) == nil {
			data["notification"] = decoded
		} else {
			data["notification_raw"] = string(raw)
		}
	}

	// No TargetAgentIDs: fans out to every agent with an active watch via
	// the router's registered-agent broadcast path.
	s.dispatch(w, r, &events.Event{
		ID:        uuid.NewString(),
		Source:    "gmail",
		EventType: "push",
		Data:      data,
		Timestamp: time.Now(),
		Priority:  events.PriorityNormal,
	})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, ev *events.Event) {
	if err := s.router.Dispatch(r.Context(), ev); err != nil {
		s.logger.Error("webhook dispatch failed", "source", ev.Source, "event_type", ev.EventType, "error", err)
		http.Error(w, "dispatch failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("body too large")
	}
	return body, nil
}

func decodeJSONObject(body []byte) (map[string]any, error) {
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return data, nil
}

// verifySignature checks the request against whichever of the three
// recognized signature headers is present.
func verifySignature(r *http.Request, body []byte, secret string) bool {
	if v := r.Header.Get("X-Hub-Signature-256"); v != "" {
		hex, ok := strings.CutPrefix(v, "sha256=")
		if !ok {
			return false
		}
		return hmacEqual(secret, body, hex)
	}
	if v := r.Header.Get("Stripe-Signature"); v != "" {
		return verifyStripeSignature(v, body, secret)
	}
	if v := r.Header.Get("X-Webhook-Signature"); v != "" {
		hex, _ := strings.CutPrefix(v, "sha256=")
		return hmacEqual(secret, body, hex)
	}
	return false
}

// verifyStripeSignature parses "t=<ts>,v1=<hex>[,v1=<hex>...]" and accepts
// if any v1 value matches HMAC-SHA256(secret, raw-body).
func verifyStripeSignature(header string, body []byte, secret string) bool {
	var v1s []string
	for _, field := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == "v1" {
			v1s = append(v1s, strings.TrimSpace(v))
		}
	}
	for _, v1 := range v1s {
		if hmacEqual(secret, body, v1) {
			return true
		}
	}
	return false
}

func hmacEqual(secret string, body []byte, expectedHex string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedHex), []byte(expected))
}

// detectSource identifies the originating service from well-known headers
// and extracts its event-type label, falling back to a generic label for
// unrecognized senders.
func detectSource(r *http.Request) (source, eventType string) {
	switch {
	case r.Header.Get("X-GitHub-Event") != "":
		return "github", r.Header.Get("X-GitHub-Event")
	case r.Header.Get("Stripe-Signature") != "":
		return "stripe", "event"
	case r.Header.Get("X-Gitlab-Event") != "":
		return "gitlab", r.Header.Get("X-Gitlab-Event")
	case r.Header.Get("X-Atlassian-Webhook-Identifier") != "" && r.Header.Get("X-Event-Key") != "":
		return "atlassian", r.Header.Get("X-Event-Key")
	case r.Header.Get("Linear-Event") != "":
		return "linear", r.Header.Get("Linear-Event")
	default:
		return "webhook", "generic"
	}
}
