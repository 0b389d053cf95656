// Package store holds the authoritative in-memory model of every chat
// session in the running process. The persistence mirror is best-effort: a
// failed save is logged and never blocks or fails the in-memory operation.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/model/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
)

// previewLimit is the number of characters of the last message shown in the
// session list.
const previewLimit = 50

const mirrorTimeout = 10 * time.Second

// Mirror is the persistence collaborator. Every call is fire-and-forget from
// the store's perspective; the store must work with a nil Mirror.
type Mirror interface {
	CreateSession(ctx context.Context, rec session.Record) error
	UpdateSession(ctx context.Context, rec session.Record) error
	DeleteSession(ctx context.Context, id string) error
	DeleteAllSessions(ctx context.Context) error
	ListSessions(ctx context.Context) ([]session.Record, error)
	ListMessages(ctx context.Context, sessionID string) ([]session.Message, error)
	AppendMessage(ctx context.Context, sessionID string, msg session.Message) error
}

// Notifier receives a signal after every session mutation so other windows
// can converge. May be nil.
type Notifier interface {
	SessionsChanged()
}

// Store is the only writer of session message slices; the streaming client
// and the correlation engine mutate through its methods so preview
// derivation stays correct.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	mirror   Mirror
	notifier Notifier
	log      *zap.Logger
}

// New bootstraps an empty store. mirror and notifier may be nil.
func New(mirror Mirror, notifier Notifier, log *zap.Logger) *Store {
	return &Store{
		sessions: make(map[string]*session.Session),
		mirror:   mirror,
		notifier: notifier,
		log:      log,
	}
}

// Create allocates a new session from a tagged-variant request.
func (s *Store) Create(ctx context.Context, req session.NewSessionRequest) (session.Session, error) {
	mode := req.SearchMode
	if mode == "" {
		mode = session.SearchLocal
	}

	sess := &session.Session{
		ID:              uuid.NewString(),
		Title:           titleFor(req),
		CreatedAt:       time.Now().UTC(),
		Color:           req.Color,
		DocumentHash:    req.DocumentHash,
		ContextFilter:   req.ContextFilter,
		SearchMode:      mode,
		Messages:        make([]session.Message, 0, 8),
		AutoStartPrompt: req.AutoStartPrompt,
		MessagesLoaded:  true,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	copied := cloneSession(sess)
	s.mu.Unlock()

	s.mirrorAsync("create session", func(ctx context.Context) error {
		return s.mirror.CreateSession(ctx, session.RecordOf(copied))
	})
	s.notify()
	return copied, nil
}

func titleFor(req session.NewSessionRequest) string {
	context := req.Name
	if context == "" && req.Kind == session.KindScoped {
		context = req.Color
	}
	if context == "" {
		return session.DefaultTitle
	}
	return session.ScopedTitlePrefix + context
}

// Hydrate rebuilds the in-memory set from a persisted snapshot. Messages
// start empty per session and are loaded lazily on activation.
func (s *Store) Hydrate(records []session.Record) {
	s.mu.Lock()
	s.sessions = make(map[string]*session.Session, len(records))
	for _, rec := range records {
		s.sessions[rec.ID] = &session.Session{
			ID:                   rec.ID,
			Title:                rec.Title,
			CreatedAt:            rec.CreatedAt,
			Preview:              rec.Preview,
			Color:                rec.Color,
			DocumentHash:         rec.DocumentHash,
			ContextFilter:        rec.ContextFilter,
			SearchMode:           rec.SearchMode,
			IncludeOtherSessions: rec.IncludeOtherSessions,
			TitlingAttempted:     rec.TitlingAttempted,
			Messages:             make([]session.Message, 0),
		}
	}
	s.mu.Unlock()
	s.notify()
}

// HydrateFromMirror pulls the persisted snapshot and hydrates. Failure keeps
// the current in-memory state.
func (s *Store) HydrateFromMirror(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	records, err := s.mirror.ListSessions(ctx)
	if err != nil {
		return err
	}
	s.Hydrate(records)
	return nil
}

// Activate marks a session as the live conversation, loading its message
// history from the mirror on first use.
func (s *Store) Activate(ctx context.Context, id string) (session.Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return session.Session{}, ErrSessionNotFound
	}
	needsLoad := !sess.MessagesLoaded && s.mirror != nil
	s.mu.Unlock()

	if needsLoad {
		messages, err := s.mirror.ListMessages(ctx, id)
		if err != nil {
			s.log.Warn("lazy message load failed, continuing with empty history",
				zap.String("session", id), zap.Error(err))
		}
		s.mu.Lock()
		if sess, ok := s.sessions[id]; ok && !sess.MessagesLoaded {
			sess.Messages = append(sess.Messages[:0], messages...)
			sess.MessagesLoaded = true
		}
		s.mu.Unlock()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok = s.sessions[id]
	if !ok {
		return session.Session{}, ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

// AppendMessage appends a message and recomputes the preview. Delivery of a
// message id already present updates that message in place instead of
// appending, so duplicate or out-of-order delivery is harmless.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg session.Message) (session.Message, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return session.Message{}, ErrSessionNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	replaced := false
	for i := range sess.Messages {
		if sess.Messages[i].ID == msg.ID {
			sess.Messages[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		sess.Messages = append(sess.Messages, msg)
	}
	sess.MessagesLoaded = true
	refreshPreview(sess)
	s.mu.Unlock()

	if !msg.IsStreaming {
		s.mirrorAsync("append message", func(ctx context.Context) error {
			return s.mirror.AppendMessage(ctx, sessionID, msg)
		})
	}
	s.notify()
	return msg, nil
}

// UpdateMessageContent mutates a streaming placeholder in place. Called for
// every token fragment; intentionally chatty for responsiveness.
func (s *Store) UpdateMessageContent(sessionID, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	for i := range sess.Messages {
		if sess.Messages[i].ID == messageID {
			sess.Messages[i].Content = content
			refreshPreview(sess)
			return nil
		}
	}
	return ErrMessageNotFound
}

// FinalizeMessage freezes a streaming placeholder with its final content and
// captured sources, then mirrors it.
func (s *Store) FinalizeMessage(ctx context.Context, sessionID, messageID, content string, sources []session.Source) (session.Message, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return session.Message{}, ErrSessionNotFound
	}

	var final session.Message
	found := false
	for i := range sess.Messages {
		if sess.Messages[i].ID == messageID {
			sess.Messages[i].Content = content
			sess.Messages[i].Sources = sources
			sess.Messages[i].IsStreaming = false
			final = sess.Messages[i]
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return session.Message{}, ErrMessageNotFound
	}
	refreshPreview(sess)
	s.mu.Unlock()

	s.mirrorAsync("persist finalized message", func(ctx context.Context) error {
		return s.mirror.AppendMessage(ctx, sessionID, final)
	})
	s.notify()
	return final, nil
}

// Rename sets a session title.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	rec, err := s.mutate(id, func(sess *session.Session) { sess.Title = title })
	if err != nil {
		return err
	}
	s.mirrorAsync("rename session", func(ctx context.Context) error {
		return s.mirror.UpdateSession(ctx, rec)
	})
	s.notify()
	return nil
}

// SetSearchMode switches retrieval between the scoped document and the whole
// index.
func (s *Store) SetSearchMode(ctx context.Context, id string, mode session.SearchMode) error {
	rec, err := s.mutate(id, func(sess *session.Session) { sess.SearchMode = mode })
	if err != nil {
		return err
	}
	s.mirrorAsync("update search mode", func(ctx context.Context) error {
		return s.mirror.UpdateSession(ctx, rec)
	})
	s.notify()
	return nil
}

// SetIncludeOtherSessions toggles cross-session retrieval context.
func (s *Store) SetIncludeOtherSessions(ctx context.Context, id string, include bool) error {
	rec, err := s.mutate(id, func(sess *session.Session) { sess.IncludeOtherSessions = include })
	if err != nil {
		return err
	}
	s.mirrorAsync("update retrieval flags", func(ctx context.Context) error {
		return s.mirror.UpdateSession(ctx, rec)
	})
	s.notify()
	return nil
}

// Delete removes one session.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	s.mirrorAsync("delete session", func(ctx context.Context) error {
		return s.mirror.DeleteSession(ctx, id)
	})
	s.notify()
	return nil
}

// DeleteAll wipes every session.
func (s *Store) DeleteAll(ctx context.Context) {
	s.mu.Lock()
	s.sessions = make(map[string]*session.Session)
	s.mu.Unlock()

	s.mirrorAsync("delete all sessions", func(ctx context.Context) error {
		return s.mirror.DeleteAllSessions(ctx)
	})
	s.notify()
}

// ClaimTitling flips the titling flag exactly once. The second caller gets
// false, guaranteeing at most one generation attempt per session across
// restarts (the flag persists via the mirror).
func (s *Store) ClaimTitling(ctx context.Context, id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.TitlingAttempted {
		s.mu.Unlock()
		return false
	}
	sess.TitlingAttempted = true
	rec := session.RecordOf(*sess)
	s.mu.Unlock()

	s.mirrorAsync("persist titling attempt", func(ctx context.Context) error {
		return s.mirror.UpdateSession(ctx, rec)
	})
	return true
}

// TakeAutoStartPrompt consumes the seed prompt, if any. The prompt is handed
// out exactly once.
func (s *Store) TakeAutoStartPrompt(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.AutoStartPrompt == "" {
		return "", false
	}
	prompt := sess.AutoStartPrompt
	sess.AutoStartPrompt = ""
	return prompt, true
}

// Get returns a copy of one session.
func (s *Store) Get(id string) (session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, false
	}
	return cloneSession(sess), true
}

// List returns copies of every session, oldest first.
func (s *Store) List() []session.Session {
	s.mu.RLock()
	out := make([]session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// FindScoped locates the session bound to a highlight color on a document,
// matching by hash or, for sessions hydrated before a hash existed, by the
// document's display name.
func (s *Store) FindScoped(color, docHash, docName string) (session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.Color != color {
			continue
		}
		if (docHash != "" && sess.DocumentHash == docHash) ||
			(docName != "" && sess.ContextFilter == docName) {
			return cloneSession(sess), true
		}
	}
	return session.Session{}, false
}

func (s *Store) mutate(id string, fn func(*session.Session)) (session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return session.Record{}, ErrSessionNotFound
	}
	fn(sess)
	return session.RecordOf(*sess), nil
}

// mirrorAsync runs a persistence call in the background. Losing a save is
// recoverable; blocking the UI on a flaky save is not.
func (s *Store) mirrorAsync(op string, fn func(context.Context) error) {
	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Warn("persistence mirror call failed", zap.String("op", op), zap.Error(err))
		}
	}()
}

func (s *Store) notify() {
	if s.notifier != nil {
		s.notifier.SessionsChanged()
	}
}

// refreshPreview derives the preview purely from the current last message,
// never as an accumulator. Caller holds the write lock.
func refreshPreview(sess *session.Session) {
	if len(sess.Messages) == 0 {
		sess.Preview = ""
		return
	}
	sess.Preview = previewOf(sess.Messages[len(sess.Messages)-1].Content)
}

func previewOf(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit]) + "..."
}

func cloneSession(sess *session.Session) session.Session {
	out := *sess
	out.Messages = append([]session.Message(nil), sess.Messages...)
	return out
}
