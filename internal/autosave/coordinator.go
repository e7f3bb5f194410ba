// Package autosave debounces edit bursts into periodic saves against a
// single document. Edits made while a save is in flight are held and sent
// as soon as the flight resolves; at most one save runs at a time. A version
// conflict stops the loop until the caller reconciles, there is no automatic
// retry.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"lexora/api/internal/app"
	"lexora/api/internal/store"
)

const DefaultDebounce = 2 * time.Second

var ErrClosed = errors.New("autosave: coordinator closed")

// Saver performs the actual conditional save.
type Saver interface {
	Save(ctx context.Context, documentID, editorID int64, patch store.SavePatch, expectedVersion int64) (store.Document, error)
}

const (
	EventSaving   = "saving"
	EventSaved    = "saved"
	EventConflict = "conflict"
	EventError    = "error"
)

type Event struct {
	Kind     string
	Document store.Document
	Err      error
}

type Coordinator struct {
	saver      Saver
	documentID int64
	editorID   int64
	debounce   time.Duration

	mu         sync.Mutex
	version    int64
	pending    *store.SavePatch
	timer      *time.Timer
	inFlight   bool
	flightDone chan struct{}
	conflicted bool
	closed     bool

	events chan Event
}

// New creates a coordinator for one editor working on one document.
// currentVersion is the version the editor loaded.
func New(saver Saver, documentID, editorID, currentVersion int64, debounce time.Duration) *Coordinator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Coordinator{
		saver:      saver,
		documentID: documentID,
		editorID:   editorID,
		debounce:   debounce,
		version:    currentVersion,
		events:     make(chan Event, 32),
	}
}

// Events reports save outcomes. The channel closes when the coordinator
// does.
func (c *Coordinator) Events() <-chan Event { return c.events }

func (c *Coordinator) LastKnownVersion() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Enqueue registers an edit and restarts the debounce window. Later edits
// to the same field supersede earlier ones; only the newest state is saved.
func (c *Coordinator) Enqueue(patch store.SavePatch) error {
	if patch.Empty() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	c.mergeLocked(patch)
	if c.conflicted || c.inFlight {
		// Held until the conflict is reconciled or the flight lands.
		return nil
	}
	c.scheduleLocked()
	return nil
}

// SaveNow flushes the pending edit immediately, waiting out any in-flight
// save first. Returns the saved document, or the last known state when
// there was nothing to save.
func (c *Coordinator) SaveNow(ctx context.Context) (store.Document, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return store.Document{}, ErrClosed
		}
		if !c.inFlight {
			break
		}
		done := c.flightDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return store.Document{}, ctx.Err()
		}
	}
	// Lock held, no flight running.
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.pending == nil {
		c.mu.Unlock()
		return store.Document{}, nil
	}
	patch := *c.pending
	c.pending = nil
	expected := c.version
	c.inFlight = true
	c.flightDone = make(chan struct{})
	c.mu.Unlock()

	c.emit(Event{Kind: EventSaving})
	doc, err := c.saver.Save(ctx, c.documentID, c.editorID, patch, expected)
	c.finish(patch, doc, err)
	return doc, err
}

// UpdateVersion reconciles the coordinator after a conflict, or after the
// document changed through another path. Held edits resume saving against
// the new version.
func (c *Coordinator) UpdateVersion(version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = version
	c.conflicted = false
	if c.pending != nil && !c.inFlight && !c.closed {
		c.scheduleLocked()
	}
}

// Close flushes any pending edit and shuts the coordinator down. Safe to
// call once.
func (c *Coordinator) Close(ctx context.Context) error {
	_, err := c.SaveNow(ctx)
	if errors.Is(err, ErrClosed) {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return err
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	close(c.events)
	c.mu.Unlock()

	return err
}

func (c *Coordinator) mergeLocked(patch store.SavePatch) {
	if c.pending == nil {
		c.pending = &store.SavePatch{}
	}
	if patch.Title != nil {
		c.pending.Title = patch.Title
	}
	if patch.Content != nil {
		c.pending.Content = patch.Content
	}
	if patch.Description != nil {
		c.pending.Description = patch.Description
	}
	if patch.Tags != nil {
		c.pending.Tags = patch.Tags
	}
}

func (c *Coordinator) scheduleLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.flush)
}

func (c *Coordinator) flush() {
	c.mu.Lock()
	if c.closed || c.inFlight || c.conflicted || c.pending == nil {
		c.mu.Unlock()
		return
	}
	patch := *c.pending
	c.pending = nil
	expected := c.version
	c.inFlight = true
	c.flightDone = make(chan struct{})
	c.mu.Unlock()

	c.emit(Event{Kind: EventSaving})
	doc, err := c.saver.Save(context.Background(), c.documentID, c.editorID, patch, expected)
	c.finish(patch, doc, err)
}

// finish records the outcome of a save and keeps the cycle going when edits
// arrived mid-flight. Held edits already sat out a full flight, so they are
// dispatched right away rather than debounced again.
func (c *Coordinator) finish(sent store.SavePatch, doc store.Document, err error) {
	c.mu.Lock()
	if c.inFlight {
		c.inFlight = false
		close(c.flightDone)
	}

	var event Event
	switch {
	case err == nil:
		c.version = doc.Version
		event = Event{Kind: EventSaved, Document: doc}
	case errors.Is(err, app.ErrVersionConflict):
		// The edit is not lost: it goes back into pending and waits for
		// UpdateVersion.
		c.conflicted = true
		c.requeueLocked(sent)
		event = Event{Kind: EventConflict, Err: err}
	default:
		c.requeueLocked(sent)
		event = Event{Kind: EventError, Err: err}
	}

	if c.pending != nil && !c.conflicted && !c.closed && err == nil {
		go c.flush()
	}
	if !c.closed {
		select {
		case c.events <- event:
		default:
		}
	}
	c.mu.Unlock()
}

// emit publishes an event without blocking; slow listeners miss events
// rather than stalling saves.
func (c *Coordinator) emit(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- event:
	default:
	}
}

// requeueLocked puts the sent patch back under any edits made during the
// flight, so nothing typed is dropped.
func (c *Coordinator) requeueLocked(sent store.SavePatch) {
	newer := c.pending
	c.pending = nil
	c.mergeLocked(sent)
	if newer != nil {
		c.mergeLocked(*newer)
	}
}
