// Package collab ties the pieces of an editing session together: one user,
// one open document, debounced autosave, version history and a presence
// room. It is the surface an editor connection talks to.
package collab

import (
	"context"
	"errors"
	"time"

	"lexora/api/internal/autosave"
	"lexora/api/internal/export"
	"lexora/api/internal/presence"
	"lexora/api/internal/store"
)

type documentService interface {
	LoadDocument(ctx context.Context, userID, documentID int64) (store.Document, error)
	SaveDocument(ctx context.Context, userID, documentID int64, patch store.SavePatch, expectedVersion *int64) (store.Document, error)
	RestoreVersion(ctx context.Context, userID, documentID, version int64) (store.Document, error)
	ListVersions(ctx context.Context, userID, documentID int64) ([]store.VersionSnapshot, error)
	AutosaveDebounce() time.Duration
}

// saverAdapter lets the autosave coordinator drive the service's
// conditional save.
type saverAdapter struct {
	service documentService
}

func (a saverAdapter) Save(ctx context.Context, documentID, editorID int64, patch store.SavePatch, expectedVersion int64) (store.Document, error) {
	return a.service.SaveDocument(ctx, editorID, documentID, patch, &expectedVersion)
}

type Session struct {
	service     documentService
	userID      int64
	documentID  int64
	coordinator *autosave.Coordinator
	sub         *presence.Subscription
	closed      bool
}

// Open loads the document, starts the autosave cycle against its current
// version and, when a hub is available, joins the presence room. A
// non-positive debounce falls back to the service's configured window.
func Open(ctx context.Context, service documentService, hub *presence.Hub, userID int64, userName string, documentID int64, debounce time.Duration) (*Session, error) {
	doc, err := service.LoadDocument(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = service.AutosaveDebounce()
	}

	session := &Session{
		service:     service,
		userID:      userID,
		documentID:  documentID,
		coordinator: autosave.New(saverAdapter{service: service}, documentID, userID, doc.Version, debounce),
	}

	if hub != nil {
		sub, err := hub.Join(ctx, documentID, userID, userName)
		if err != nil {
			_ = session.coordinator.Close(ctx)
			return nil, err
		}
		session.sub = sub
	}
	return session, nil
}

// Edit registers a change; it is saved after the debounce window closes.
func (s *Session) Edit(patch store.SavePatch) error {
	return s.coordinator.Enqueue(patch)
}

// SaveNow flushes pending edits immediately.
func (s *Session) SaveNow(ctx context.Context) (store.Document, error) {
	return s.coordinator.SaveNow(ctx)
}

// SaveEvents streams autosave outcomes, including conflicts the editor
// must reconcile.
func (s *Session) SaveEvents() <-chan autosave.Event {
	return s.coordinator.Events()
}

// Reconcile tells the session the document's authoritative version after
// the editor resolved a conflict or reloaded.
func (s *Session) Reconcile(version int64) {
	s.coordinator.UpdateVersion(version)
}

func (s *Session) LastKnownVersion() int64 {
	return s.coordinator.LastKnownVersion()
}

func (s *Session) Versions(ctx context.Context) ([]store.VersionSnapshot, error) {
	return s.service.ListVersions(ctx, s.userID, s.documentID)
}

// RestoreVersion flushes pending edits, writes the historical snapshot back
// as a new version and realigns the autosave cycle with the result.
func (s *Session) RestoreVersion(ctx context.Context, version int64) (store.Document, error) {
	if _, err := s.coordinator.SaveNow(ctx); err != nil {
		return store.Document{}, err
	}
	doc, err := s.service.RestoreVersion(ctx, s.userID, s.documentID, version)
	if err != nil {
		return store.Document{}, err
	}
	s.coordinator.UpdateVersion(doc.Version)
	return doc, nil
}

// Export renders the current saved state; pending unsaved edits are flushed
// first so the download matches what the editor sees.
func (s *Session) Export(ctx context.Context, format export.Format) (export.Result, error) {
	if _, err := s.coordinator.SaveNow(ctx); err != nil {
		return export.Result{}, err
	}
	doc, err := s.service.LoadDocument(ctx, s.userID, s.documentID)
	if err != nil {
		return export.Result{}, err
	}
	return export.Render(doc, format)
}

// Presence exposes the session's room subscription; nil when presence is
// not configured.
func (s *Session) Presence() *presence.Subscription {
	return s.sub
}

// Close flushes pending edits, leaves the presence room and releases the
// session. Safe to call once.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	saveErr := s.coordinator.Close(ctx)
	if errors.Is(saveErr, autosave.ErrClosed) {
		saveErr = nil
	}
	if s.sub != nil {
		if err := s.sub.Leave(ctx); err != nil && saveErr == nil {
			saveErr = err
		}
	}
	return saveErr
}
