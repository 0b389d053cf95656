// Package correlate decides which session a highlight belongs to. The core
// consolidation rule: one chat per (document, color) pair, no matter how many
// times that color is highlighted.
package correlate

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/model/highlight"
	"github.com/titier-app/titier/bridge/internal/model/session"
	"github.com/titier-app/titier/bridge/internal/pdfdoc"
	"github.com/titier-app/titier/bridge/internal/service/store"
)

// Document identifies the currently open document. Hash may be empty when
// the upload did not return one; correlation then degrades to the display
// name.
type Document struct {
	Hash string
	Name string
}

// Result reports where a highlight landed.
type Result struct {
	Session session.Session
	Created bool
}

// Engine owns the dedup/claim set guarding session creation. The set lives
// on the instance, is cleared on document change, and the claim happens
// atomically with the existence check, so the manual-highlight path and the
// bulk extraction pass can never both create a session for the same
// (document, color) pair.
type Engine struct {
	mu       sync.Mutex
	store    *store.Store
	registry *pdfdoc.Registry
	doc      Document
	claimed  map[string]struct{}
	log      *zap.Logger
}

// New builds an engine with no open document.
func New(st *store.Store, registry *pdfdoc.Registry, log *zap.Logger) *Engine {
	return &Engine{
		store:    st,
		registry: registry,
		claimed:  make(map[string]struct{}),
		log:      log,
	}
}

// SetDocument switches the open document and clears the claim set.
func (e *Engine) SetDocument(doc Document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc = doc
	e.claimed = make(map[string]struct{})
}

// Document returns the currently open document identity.
func (e *Engine) Document() Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc
}

// HandleHighlight routes a new highlight: append to the existing session for
// its (document, color) pair, or claim the pair and create one seeded with
// an auto-start prompt.
func (e *Engine) HandleHighlight(ctx context.Context, h highlight.Highlight) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	color := e.resolveColor(h.Color)
	prompt := highlightPrompt(e.doc.Name, pdfdoc.ColorName(color), h)

	if sess, ok := e.store.FindScoped(color, e.doc.Hash, e.doc.Name); ok {
		e.claimed[e.claimKey(color)] = struct{}{}
		if _, err := e.store.AppendMessage(ctx, sess.ID, session.Message{
			Role:    session.RoleUser,
			Content: prompt,
		}); err != nil {
			return Result{}, fmt.Errorf("append highlight prompt: %w", err)
		}
		sess, _ = e.store.Get(sess.ID)
		return Result{Session: sess}, nil
	}

	sess, err := e.store.Create(ctx, session.NewSessionRequest{
		Kind:            session.KindScoped,
		Name:            pdfdoc.ColorName(color),
		DocumentHash:    e.doc.Hash,
		ContextFilter:   e.doc.Name,
		Color:           color,
		AutoStartPrompt: prompt,
	})
	if err != nil {
		return Result{}, err
	}
	e.claimed[e.claimKey(color)] = struct{}{}

	e.log.Info("spawned color-scoped session",
		zap.String("session", sess.ID),
		zap.String("color", color),
		zap.String("document", e.doc.Name))
	return Result{Session: sess, Created: true}, nil
}

// RunExtractionPass synthesizes a session for every annotation color already
// present in the document that lacks one. Runs once per opened document;
// re-running is a no-op because every pair is either claimed or already has
// a session.
func (e *Engine) RunExtractionPass(ctx context.Context, colors []string) ([]session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var created []session.Session
	for _, raw := range colors {
		color := e.resolveColor(raw)
		key := e.claimKey(color)
		if _, done := e.claimed[key]; done {
			continue
		}
		if _, ok := e.store.FindScoped(color, e.doc.Hash, e.doc.Name); ok {
			e.claimed[key] = struct{}{}
			continue
		}

		name := pdfdoc.ColorName(color)
		sess, err := e.store.Create(ctx, session.NewSessionRequest{
			Kind:            session.KindScoped,
			Name:            name,
			DocumentHash:    e.doc.Hash,
			ContextFilter:   e.doc.Name,
			Color:           color,
			AutoStartPrompt: extractionPrompt(e.doc.Name, name),
		})
		if err != nil {
			return created, err
		}
		e.claimed[key] = struct{}{}
		created = append(created, sess)
	}
	return created, nil
}

func (e *Engine) resolveColor(raw string) string {
	if hex, ok := pdfdoc.NormalizeHex(raw); ok {
		return hex
	}
	return e.registry.First()
}

// claimKey prefers the hash; name-keyed claims exist only for documents the
// upload never hashed, avoiding collisions between unrelated documents that
// share a filename.
func (e *Engine) claimKey(color string) string {
	doc := e.doc.Hash
	if doc == "" {
		doc = "name:" + e.doc.Name
	}
	return doc + "|" + color
}

func highlightPrompt(docName, colorName string, h highlight.Highlight) string {
	if h.Content.Text == "" {
		page := h.Position.BoundingRect.PageNumber
		return fmt.Sprintf(
			"I marked an area in %s on page %d of %q. Based on the document, explain what that region covers.",
			colorName, page, docName)
	}
	return fmt.Sprintf(
		"I highlighted the following passage in %s in %q:\n\n%q\n\nExplain it and how it fits into the document.",
		colorName, docName, h.Content.Text)
}

func extractionPrompt(docName, colorName string) string {
	return fmt.Sprintf(
		"This chat is focused on the passages marked in %s in %q. Give me an overview of what those passages cover.",
		colorName, docName)
}
