// Package webhook serves platform updates over HTTP and turns dispatch
// results into webhook method replies.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/hookbot/internal/commander"
	"github.com/stupiduntilnot/hookbot/internal/db"
	"github.com/stupiduntilnot/hookbot/internal/dispatch"
	"github.com/stupiduntilnot/hookbot/internal/metrics"
	"github.com/stupiduntilnot/hookbot/internal/telegram"
)

// InternalErrorReply is sent when a handler fails.
const InternalErrorReply = "internal error"

const maxBodyBytes = 1 << 20

// Update outcomes reported to metrics.
const (
	OutcomeReplied   = "replied"
	OutcomeEmpty     = "empty"
	OutcomeIgnored   = "ignored"
	OutcomeForbidden = "forbidden"
	OutcomeError     = "error"
	OutcomeMalformed = "malformed"
)

// Registrar registers the webhook with the platform.
type Registrar interface {
	DeleteWebhook(ctx context.Context) error
	SetWebhook(ctx context.Context, url string) error
	GetMe(ctx context.Context) (cmdpkg.User, error)
}

// SecretPath is the URL path segment updates are served under: the hex
// SHA-256 of the bot token.
func SecretPath(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Server handles inbound updates.
type Server struct {
	engine    *dispatch.Engine
	secret    string
	allowed   func(chatID int64) bool
	logger    *zap.Logger
	journal   db.Journal
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	registrar Registrar
	publicURL string
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

func WithJournal(j db.Journal) Option { return func(s *Server) { s.journal = j } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithAllowedChats drops updates from chats fn rejects.
func WithAllowedChats(fn func(chatID int64) bool) Option {
	return func(s *Server) { s.allowed = fn }
}

// WithRegistrar enables the GET setup route. publicURL, when set, replaces
// the request's scheme and host in the registered webhook URL.
func WithRegistrar(r Registrar, publicURL string) Option {
	return func(s *Server) {
		s.registrar = r
		s.publicURL = strings.TrimSuffix(publicURL, "/")
	}
}

// New returns a Server dispatching to engine under SecretPath(token).
func New(engine *dispatch.Engine, token string, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		secret:  SecretPath(token),
		logger:  zap.NewNop(),
		journal: db.NopJournal{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /"+s.secret+"/updates", s.handleUpdate)
	if s.registrar != nil {
		mux.HandleFunc("GET /"+s.secret+"/{$}", s.handleSetup)
	}
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var u cmdpkg.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&u); err != nil {
		s.record(OutcomeMalformed)
		s.logger.Info("malformed update", zap.Error(err))
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}
	reply := s.Handle(r.Context(), u)
	if reply.Empty() {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, telegram.NewWebhookReply(reply.ChatID, reply.Text, reply.ReplyTo))
}

// Handle runs one update through dispatch. A handler failure is logged
// and answered with InternalErrorReply; it never reaches the caller.
func (s *Server) Handle(ctx context.Context, u cmdpkg.Update) dispatch.Reply {
	requestID := uuid.NewString()
	log := s.logger.With(zap.String("request_id", requestID), zap.Int64("update_id", u.UpdateID))

	m := u.Message
	payload := map[string]any{"update_id": u.UpdateID, "request_id": requestID}
	if m != nil {
		payload["chat_id"] = m.Chat.ID
		payload["message_id"] = m.MessageID
	}
	eventID := s.journal.Record(0, db.EventUpdateReceived, payload)

	if m == nil || m.Text == nil {
		s.journal.Record(eventID, db.EventUpdateIgnored, map[string]any{"reason": "no_text"})
		s.record(OutcomeIgnored)
		log.Debug("update without text ignored")
		return dispatch.Reply{}
	}
	if s.allowed != nil && !s.allowed(m.Chat.ID) {
		s.journal.Record(eventID, db.EventUpdateIgnored, map[string]any{"reason": "chat_not_allowed"})
		s.record(OutcomeForbidden)
		log.Info("update from chat outside allowlist", zap.Int64("chat_id", m.Chat.ID))
		return dispatch.Reply{}
	}

	command, ok := s.engine.Match(*m.Text)
	if !ok {
		command = "unmatched"
	}
	s.journal.Record(eventID, db.EventCommandDispatched, map[string]any{"command": command})

	reply, err := s.engine.Dispatch(db.WithEvent(ctx, eventID), m)
	if err != nil {
		s.journal.Record(eventID, db.EventHandlerFailed, map[string]any{"error": err.Error()})
		s.record(OutcomeError)
		log.Error("handler failed", zap.Int64("chat_id", m.Chat.ID), zap.Error(err))
		return dispatch.Text(m, InternalErrorReply)
	}
	if reply.Empty() {
		s.record(OutcomeEmpty)
		return reply
	}
	s.journal.Record(eventID, db.EventReplySent, map[string]any{"chars": len([]rune(reply.Text))})
	s.record(OutcomeReplied)
	return reply
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	target := s.setupURL(r) + "updates"
	ctx := r.Context()
	if err := s.registrar.DeleteWebhook(ctx); err != nil {
		s.logger.Warn("delete previous webhook failed", zap.Error(err))
	}
	if err := s.registrar.SetWebhook(ctx, target); err != nil {
		s.logger.Error("set webhook failed", zap.String("url", target), zap.Error(err))
		http.Error(w, "set webhook failed", http.StatusBadGateway)
		return
	}
	s.journal.Record(0, db.EventWebhookSet, map[string]any{"url": target})
	s.logger.Info("webhook set", zap.String("url", target))

	me, err := s.registrar.GetMe(ctx)
	if err != nil {
		http.Error(w, "getMe failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

// setupURL is the URL the setup request was made to, ending in "/".
func (s *Server) setupURL(r *http.Request) string {
	path := r.URL.Path
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	if s.publicURL != "" {
		return s.publicURL + path
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + path
}

func (s *Server) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordUpdate(outcome)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
