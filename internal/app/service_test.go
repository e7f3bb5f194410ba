package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"lexora/api/internal/config"
	"lexora/api/internal/store"
)

type fakeStore struct {
	ensureUserByNameFn          func(context.Context, string) (store.User, error)
	getUserByIDFn               func(context.Context, int64) (store.User, error)
	createDocumentFn            func(context.Context, store.Document) (store.Document, error)
	getDocumentFn               func(context.Context, int64, bool) (store.Document, error)
	listDocumentsForUserFn      func(context.Context, int64) ([]store.Document, error)
	listTrashFn                 func(context.Context, int64) ([]store.Document, error)
	saveDocumentFn              func(context.Context, int64, store.SavePatch, int64, int64) (store.Document, error)
	listSnapshotsFn             func(context.Context, int64) ([]store.VersionSnapshot, error)
	getSnapshotFn               func(context.Context, int64, int64) (store.VersionSnapshot, error)
	softDeleteDocumentFn        func(context.Context, int64) (bool, error)
	restoreDocumentFn           func(context.Context, int64) (bool, error)
	deleteDocumentPermanentlyFn func(context.Context, int64) error
	getShareGrantFn             func(context.Context, int64, int64) (*store.ShareGrant, error)
	getShareGrantByIDFn         func(context.Context, int64) (store.ShareGrant, error)
	listShareGrantsFn           func(context.Context, int64) ([]store.ShareGrant, error)
	upsertShareGrantFn          func(context.Context, store.ShareGrant) (store.ShareGrant, error)
	updateShareGrantFn          func(context.Context, int64, *store.Permission, *bool) (store.ShareGrant, error)
	removeShareGrantFn          func(context.Context, int64) error
}

func (f *fakeStore) EnsureUserByName(ctx context.Context, name string) (store.User, error) {
	if f.ensureUserByNameFn != nil {
		return f.ensureUserByNameFn(ctx, name)
	}
	return store.User{ID: 1, DisplayName: name}, nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID int64) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "user"}, nil
}
func (f *fakeStore) CreateDocument(ctx context.Context, doc store.Document) (store.Document, error) {
	if f.createDocumentFn != nil {
		return f.createDocumentFn(ctx, doc)
	}
	doc.ID = 7
	doc.Version = 1
	return doc, nil
}
func (f *fakeStore) GetDocument(ctx context.Context, documentID int64, includeDeleted bool) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, documentID, includeDeleted)
	}
	return store.Document{}, sql.ErrNoRows
}
func (f *fakeStore) ListDocumentsForUser(ctx context.Context, userID int64) ([]store.Document, error) {
	if f.listDocumentsForUserFn != nil {
		return f.listDocumentsForUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) ListTrash(ctx context.Context, userID int64) ([]store.Document, error) {
	if f.listTrashFn != nil {
		return f.listTrashFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) SaveDocument(ctx context.Context, documentID int64, patch store.SavePatch, editorID, expectedVersion int64) (store.Document, error) {
	if f.saveDocumentFn != nil {
		return f.saveDocumentFn(ctx, documentID, patch, editorID, expectedVersion)
	}
	return store.Document{}, sql.ErrNoRows
}
func (f *fakeStore) ListSnapshots(ctx context.Context, documentID int64) ([]store.VersionSnapshot, error) {
	if f.listSnapshotsFn != nil {
		return f.listSnapshotsFn(ctx, documentID)
	}
	return nil, nil
}
func (f *fakeStore) GetSnapshot(ctx context.Context, documentID, version int64) (store.VersionSnapshot, error) {
	if f.getSnapshotFn != nil {
		return f.getSnapshotFn(ctx, documentID, version)
	}
	return store.VersionSnapshot{}, sql.ErrNoRows
}
func (f *fakeStore) SoftDeleteDocument(ctx context.Context, documentID int64) (bool, error) {
	if f.softDeleteDocumentFn != nil {
		return f.softDeleteDocumentFn(ctx, documentID)
	}
	return true, nil
}
func (f *fakeStore) RestoreDocument(ctx context.Context, documentID int64) (bool, error) {
	if f.restoreDocumentFn != nil {
		return f.restoreDocumentFn(ctx, documentID)
	}
	return true, nil
}
func (f *fakeStore) DeleteDocumentPermanently(ctx context.Context, documentID int64) error {
	if f.deleteDocumentPermanentlyFn != nil {
		return f.deleteDocumentPermanentlyFn(ctx, documentID)
	}
	return nil
}
func (f *fakeStore) GetShareGrant(ctx context.Context, documentID, granteeID int64) (*store.ShareGrant, error) {
	if f.getShareGrantFn != nil {
		return f.getShareGrantFn(ctx, documentID, granteeID)
	}
	return nil, nil
}
func (f *fakeStore) GetShareGrantByID(ctx context.Context, grantID int64) (store.ShareGrant, error) {
	if f.getShareGrantByIDFn != nil {
		return f.getShareGrantByIDFn(ctx, grantID)
	}
	return store.ShareGrant{}, sql.ErrNoRows
}
func (f *fakeStore) ListShareGrants(ctx context.Context, documentID int64) ([]store.ShareGrant, error) {
	if f.listShareGrantsFn != nil {
		return f.listShareGrantsFn(ctx, documentID)
	}
	return nil, nil
}
func (f *fakeStore) UpsertShareGrant(ctx context.Context, grant store.ShareGrant) (store.ShareGrant, error) {
	if f.upsertShareGrantFn != nil {
		return f.upsertShareGrantFn(ctx, grant)
	}
	grant.ID = 1
	return grant, nil
}
func (f *fakeStore) UpdateShareGrant(ctx context.Context, grantID int64, permission *store.Permission, canDelete *bool) (store.ShareGrant, error) {
	if f.updateShareGrantFn != nil {
		return f.updateShareGrantFn(ctx, grantID, permission, canDelete)
	}
	return store.ShareGrant{}, sql.ErrNoRows
}
func (f *fakeStore) RemoveShareGrant(ctx context.Context, grantID int64) error {
	if f.removeShareGrantFn != nil {
		return f.removeShareGrantFn(ctx, grantID)
	}
	return nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

func testConfig() config.Config {
	return config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour}
}

func newTestService(fake *fakeStore) *Service {
	return &Service{cfg: testConfig(), store: fake}
}

func activeDocument() store.Document {
	return store.Document{
		ID:      7,
		Title:   "Retainer Agreement",
		Content: json.RawMessage(`[{"type":"p","children":[{"text":"hello"}]}]`),
		OwnerID: 1,
		Version: 3,
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestLoginAndSessionRoundTrip(t *testing.T) {
	fake := &fakeStore{
		ensureUserByNameFn: func(_ context.Context, name string) (store.User, error) {
			return store.User{ID: 42, DisplayName: name}, nil
		},
		getUserByIDFn: func(_ context.Context, userID int64) (store.User, error) {
			if userID != 42 {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{ID: 42, DisplayName: "Alice"}, nil
		},
	}
	service := newTestService(fake)

	session, err := service.Login(context.Background(), "  Alice  ")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if session.UserID != 42 || session.Token == "" {
		t.Fatalf("unexpected session: %+v", session)
	}

	resolved, err := service.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	if resolved.UserID != 42 || resolved.UserName != "Alice" {
		t.Errorf("unexpected resolved session: %+v", resolved)
	}

	if _, err := service.SessionFromToken(context.Background(), "garbage"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated for garbage token, got %v", err)
	}
}

func TestLoginRejectsBlankName(t *testing.T) {
	service := newTestService(&fakeStore{})
	if _, err := service.Login(context.Background(), "   "); err == nil {
		t.Error("expected error for blank name")
	}
}

func TestLoadDocumentAccessRules(t *testing.T) {
	doc := activeDocument()
	grants := map[int64]*store.ShareGrant{
		2: {ID: 1, DocumentID: 7, GranteeID: 2, Permission: store.PermissionView},
	}
	fake := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID int64, _ bool) (store.Document, error) {
			if documentID != 7 {
				return store.Document{}, sql.ErrNoRows
			}
			return doc, nil
		},
		getShareGrantFn: func(_ context.Context, _, granteeID int64) (*store.ShareGrant, error) {
			return grants[granteeID], nil
		},
	}
	service := newTestService(fake)

	if _, err := service.LoadDocument(context.Background(), 1, 7); err != nil {
		t.Errorf("owner load failed: %v", err)
	}
	if _, err := service.LoadDocument(context.Background(), 2, 7); err != nil {
		t.Errorf("view grantee load failed: %v", err)
	}
	if _, err := service.LoadDocument(context.Background(), 3, 7); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for stranger, got %v", err)
	}
	if _, err := service.LoadDocument(context.Background(), 1, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for absent document, got %v", err)
	}
}

func TestSaveDocumentUsesExpectedVersion(t *testing.T) {
	doc := activeDocument()
	var gotExpected int64
	fake := &fakeStore{
		getDocumentFn: func(context.Context, int64, bool) (store.Document, error) { return doc, nil },
		saveDocumentFn: func(_ context.Context, _ int64, patch store.SavePatch, editorID, expectedVersion int64) (store.Document, error) {
			gotExpected = expectedVersion
			updated := doc
			updated.Version = expectedVersion + 1
			return updated, nil
		},
	}
	service := newTestService(fake)

	updated, err := service.SaveDocument(context.Background(), 1, 7, store.SavePatch{Content: json.RawMessage(`"x"`)}, int64Ptr(3))
	if err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}
	if gotExpected != 3 {
		t.Errorf("expected conditional save against version 3, got %d", gotExpected)
	}
	if updated.Version != 4 {
		t.Errorf("expected version 4, got %d", updated.Version)
	}

	// Nil expectedVersion falls back to the stored version.
	if _, err := service.SaveDocument(context.Background(), 1, 7, store.SavePatch{Content: json.RawMessage(`"y"`)}, nil); err != nil {
		t.Fatalf("SaveDocument without expected version failed: %v", err)
	}
	if gotExpected != 3 {
		t.Errorf("expected fallback to current version 3, got %d", gotExpected)
	}
}

func TestSaveDocumentConflictCarriesCurrentVersion(t *testing.T) {
	doc := activeDocument()
	doc.Version = 5
	fake := &fakeStore{
		getDocumentFn: func(context.Context, int64, bool) (store.Document, error) { return doc, nil },
		saveDocumentFn: func(context.Context, int64, store.SavePatch, int64, int64) (store.Document, error) {
			return store.Document{}, store.ErrVersionMismatch
		},
	}
	service := newTestService(fake)

	_, err := service.SaveDocument(context.Background(), 1, 7, store.SavePatch{Content: json.RawMessage(`"x"`)}, int64Ptr(3))
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %T", err)
	}
	details, ok := domainErr.Details.(map[string]any)
	if !ok || details["currentVersion"] != int64(5) {
		t.Errorf("expected currentVersion 5 in details, got %v", domainErr.Details)
	}
}

func TestSaveDocumentDeniedForViewGrantee(t *testing.T) {
	doc := activeDocument()
	fake := &fakeStore{
		getDocumentFn: func(context.Context, int64, bool) (store.Document, error) { return doc, nil },
		getShareGrantFn: func(context.Context, int64, int64) (*store.ShareGrant, error) {
			return &store.ShareGrant{ID: 1, DocumentID: 7, GranteeID: 2, Permission: store.PermissionView}, nil
		},
	}
	service := newTestService(fake)

	_, err := service.SaveDocument(context.Background(), 2, 7, store.SavePatch{Content: json.RawMessage(`"x"`)}, nil)
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for view grantee, got %v", err)
	}
}

func TestSaveDocumentSequenceFailureIsFatal(t *testing.T) {
	doc := activeDocument()
	fake := &fakeStore{
		getDocumentFn: func(context.Context, int64, bool) (store.Document, error) { return doc, nil },
		saveDocumentFn: func(context.Context, int64, store.SavePatch, int64, int64) (store.Document, error) {
			return store.Document{}, store.ErrSnapshotSequence
		},
	}
	service := newTestService(fake)

	_, err := service.SaveDocument(context.Background(), 1, 7, store.SavePatch{Content: json.RawMessage(`"x"`)}, nil)
	if !errors.Is(err, ErrVersionSequence) {
		t.Errorf("expected ErrVersionSequence, got %v", err)
	}
}

func TestRestoreVersionSavesSnapshotAsNewVersion(t *testing.T) {
	doc := activeDocument()
	var saved store.SavePatch
	fake := &fakeStore{
		getDocumentFn: func(context.Context, int64, bool) (store.Document, error) { return doc, nil },
		getSnapshotFn: func(_ context.Context, _, version int64) (store.VersionSnapshot, error) {
			if version != 1 {
				return store.VersionSnapshot{}, sql.ErrNoRows
			}
			return store.VersionSnapshot{
				DocumentID: 7,
				Version:    1,
				Title:      "Old Title",
				Content:    json.RawMessage(`"old content"`),
			}, nil
		},
		saveDocumentFn: func(_ context.Context, _ int64, patch store.SavePatch, _, expectedVersion int64) (store.Document, error) {
			saved = patch
			updated := doc
			updated.Version = expectedVersion + 1
			return updated, nil
		},
	}
	service := newTestService(fake)

	restored, err := service.RestoreVersion(context.Background(), 1, 7, 1)
	if err != nil {
		t.Fatalf("RestoreVersion failed: %v", err)
	}
	if restored.Version != 4 {
		t.Errorf("expected restore to produce version 4, got %d", restored.Version)
	}
	if saved.Title == nil || *saved.Title != "Old Title" {
		t.Errorf("expected snapshot title in save, got %v", saved.Title)
	}
	if string(saved.Content) != `"old content"` {
		t.Errorf("expected snapshot content in save, got %s", saved.Content)
	}

	if _, err := service.RestoreVersion(context.Background(), 1, 7, 99); err == nil {
		t.Error("expected error for missing version")
	}
}

func TestSoftDeleteRequiresDeletePermission(t *testing.T) {
	doc := activeDocument()
	grants := map[int64]*store.ShareGrant{
		2: {ID: 1, DocumentID: 7, GranteeID: 2, Permission: store.PermissionEdit, CanDelete: false},
		3: {ID: 2, DocumentID: 7, GranteeID: 3, Permission: store.PermissionEdit, CanDelete: true},
	}
	fake := &fakeStore{
		getDocumentFn: func(context.Context, int64, bool) (store.Document, error) { return doc, nil },
		getShareGrantFn: func(_ context.Context, _, granteeID int64) (*store.ShareGrant, error) {
			return grants[granteeID], nil
		},
	}
	service := newTestService(fake)

	if err := service.SoftDeleteDocument(context.Background(), 2, 7); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("editor without delete flag should be denied, got %v", err)
	}
	if err := service.SoftDeleteDocument(context.Background(), 3, 7); err != nil {
		t.Errorf("editor with delete flag failed: %v", err)
	}
	if err := service.SoftDeleteDocument(context.Background(), 1, 7); err != nil {
		t.Errorf("owner delete failed: %v", err)
	}
}

func TestRestoreFromTrashOwnerOnly(t *testing.T) {
	deletedAt := time.Now()
	trashed := activeDocument()
	trashed.DeletedAt = &deletedAt
	fake := &fakeStore{
		getDocumentFn: func(_ context.Context, _ int64, includeDeleted bool) (store.Document, error) {
			if !includeDeleted {
				return store.Document{}, sql.ErrNoRows
			}
			return trashed, nil
		},
	}
	service := newTestService(fake)

	if _, err := service.RestoreFromTrash(context.Background(), 2, 7); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("non-owner restore should be denied, got %v", err)
	}

	// Owner restore: after the restore the store returns the live row.
	fake.restoreDocumentFn = func(context.Context, int64) (bool, error) { return true, nil }
	restoredDoc := activeDocument()
	calls := 0
	fake.getDocumentFn = func(_ context.Context, _ int64, includeDeleted bool) (store.Document, error) {
		calls++
		if includeDeleted {
			return trashed, nil
		}
		return restoredDoc, nil
	}
	doc, err := service.RestoreFromTrash(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("owner restore failed: %v", err)
	}
	if doc.Trashed() {
		t.Error("restored document still trashed")
	}
	// Trash and restore leave the document exactly as it was: same version,
	// same content, no new snapshot.
	if doc.Version != trashed.Version {
		t.Errorf("restore changed version: had %d, got %d", trashed.Version, doc.Version)
	}
	if string(doc.Content) != string(trashed.Content) {
		t.Errorf("restore changed content: had %s, got %s", trashed.Content, doc.Content)
	}
	if doc.Title != trashed.Title {
		t.Errorf("restore changed title: had %q, got %q", trashed.Title, doc.Title)
	}
}

func TestRestoreFromTrashRejectsActiveDocument(t *testing.T) {
	fake := &fakeStore{
		getDocumentFn: func(context.Context, int64, bool) (store.Document, error) {
			return activeDocument(), nil
		},
	}
	service := newTestService(fake)

	_, err := service.RestoreFromTrash(context.Background(), 1, 7)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_TRASHED" {
		t.Errorf("expected NOT_TRASHED, got %v", err)
	}
}

type fakeArchiver struct {
	calls int
	err   error
}

func (f *fakeArchiver) ArchiveDocument(context.Context, store.Document, []store.VersionSnapshot) error {
	f.calls++
	return f.err
}

func TestPermanentDeleteArchivesFirst(t *testing.T) {
	deleted := 0
	fake := &fakeStore{
		getDocumentFn: func(context.Context, int64, bool) (store.Document, error) {
			return activeDocument(), nil
		},
		listSnapshotsFn: func(context.Context, int64) ([]store.VersionSnapshot, error) {
			return []store.VersionSnapshot{{Version: 1}, {Version: 2}, {Version: 3}}, nil
		},
		deleteDocumentPermanentlyFn: func(context.Context, int64) error {
			deleted++
			return nil
		},
	}
	archiver := &fakeArchiver{}
	service := &Service{cfg: testConfig(), store: fake, archive: archiver}

	if err := service.PermanentlyDeleteDocument(context.Background(), 1, 7); err != nil {
		t.Fatalf("PermanentlyDeleteDocument failed: %v", err)
	}
	if archiver.calls != 1 || deleted != 1 {
		t.Errorf("expected archive then delete, got archive=%d delete=%d", archiver.calls, deleted)
	}

	// Archive failure aborts the destruction.
	archiver.err = errors.New("bucket offline")
	if err := service.PermanentlyDeleteDocument(context.Background(), 1, 7); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if deleted != 1 {
		t.Errorf("delete should not run when archiving fails, got %d", deleted)
	}

	// Non-owners cannot permanently delete, even with a delete-capable grant.
	if err := service.PermanentlyDeleteDocument(context.Background(), 2, 7); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for non-owner, got %v", err)
	}
}

func TestShareDocumentRules(t *testing.T) {
	fake := &fakeStore{
		getDocumentFn: func(context.Context, int64, bool) (store.Document, error) {
			return activeDocument(), nil
		},
		getUserByIDFn: func(_ context.Context, userID int64) (store.User, error) {
			if userID == 2 {
				return store.User{ID: 2, DisplayName: "Bob"}, nil
			}
			return store.User{}, sql.ErrNoRows
		},
	}
	service := newTestService(fake)
	ctx := context.Background()

	if _, err := service.ShareDocument(ctx, 1, 7, ShareInput{GranteeID: 2, Permission: "admin"}); err == nil {
		t.Error("expected error for invalid permission")
	}
	if _, err := service.ShareDocument(ctx, 1, 7, ShareInput{GranteeID: 1, Permission: store.PermissionView}); err == nil {
		t.Error("expected error for self-grant")
	}
	if _, err := service.ShareDocument(ctx, 1, 7, ShareInput{GranteeID: 99, Permission: store.PermissionView}); err == nil {
		t.Error("expected error for unknown grantee")
	}
	if _, err := service.ShareDocument(ctx, 2, 7, ShareInput{GranteeID: 3, Permission: store.PermissionView}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("non-owner share should be denied, got %v", err)
	}

	// canDelete is meaningless for view-only grants and gets dropped.
	grant, err := service.ShareDocument(ctx, 1, 7, ShareInput{GranteeID: 2, Permission: store.PermissionView, CanDelete: true})
	if err != nil {
		t.Fatalf("ShareDocument failed: %v", err)
	}
	if grant.CanDelete {
		t.Error("view grant should not carry the delete flag")
	}
}

func TestUpdateShareOwnerOnly(t *testing.T) {
	grant := store.ShareGrant{ID: 5, DocumentID: 7, GranteeID: 2, Permission: store.PermissionView}
	fake := &fakeStore{
		getShareGrantByIDFn: func(context.Context, int64) (store.ShareGrant, error) { return grant, nil },
		getDocumentFn: func(context.Context, int64, bool) (store.Document, error) {
			return activeDocument(), nil
		},
		updateShareGrantFn: func(_ context.Context, _ int64, permission *store.Permission, _ *bool) (store.ShareGrant, error) {
			updated := grant
			if permission != nil {
				updated.Permission = *permission
			}
			return updated, nil
		},
	}
	service := newTestService(fake)
	ctx := context.Background()

	edit := store.PermissionEdit
	updated, err := service.UpdateShare(ctx, 1, 5, &edit, nil)
	if err != nil {
		t.Fatalf("UpdateShare failed: %v", err)
	}
	if updated.Permission != store.PermissionEdit {
		t.Errorf("expected edit permission, got %s", updated.Permission)
	}

	if _, err := service.UpdateShare(ctx, 3, 5, &edit, nil); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("non-owner update should be denied, got %v", err)
	}
	if err := service.RemoveShare(ctx, 3, 5); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("non-owner remove should be denied, got %v", err)
	}
	if err := service.RemoveShare(ctx, 1, 5); err != nil {
		t.Errorf("owner remove failed: %v", err)
	}
}

// Walks a document through a shared editing session: an editor without the
// delete flag saves a new version, fails to trash the document, and loses
// access entirely once the owner trashes it.
func TestSharedEditorLifecycle(t *testing.T) {
	doc := activeDocument()
	grant := &store.ShareGrant{ID: 9, DocumentID: 7, GranteeID: 2, Permission: store.PermissionEdit, CanDelete: false}
	var snapshots []store.VersionSnapshot

	fake := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID int64, includeDeleted bool) (store.Document, error) {
			if documentID != 7 {
				return store.Document{}, sql.ErrNoRows
			}
			if doc.DeletedAt != nil && !includeDeleted {
				return store.Document{}, sql.ErrNoRows
			}
			return doc, nil
		},
		getShareGrantFn: func(_ context.Context, _, granteeID int64) (*store.ShareGrant, error) {
			if granteeID == grant.GranteeID {
				return grant, nil
			}
			return nil, nil
		},
		saveDocumentFn: func(_ context.Context, _ int64, patch store.SavePatch, editorID, expectedVersion int64) (store.Document, error) {
			if expectedVersion != doc.Version {
				return store.Document{}, store.ErrVersionMismatch
			}
			doc.Version++
			if patch.Title != nil {
				doc.Title = *patch.Title
			}
			if patch.Content != nil {
				doc.Content = patch.Content
			}
			snapshots = append(snapshots, store.VersionSnapshot{
				DocumentID: doc.ID,
				Version:    doc.Version,
				Title:      doc.Title,
				Content:    doc.Content,
				AuthorID:   editorID,
			})
			return doc, nil
		},
		softDeleteDocumentFn: func(context.Context, int64) (bool, error) {
			now := time.Now()
			doc.DeletedAt = &now
			return true, nil
		},
	}
	service := newTestService(fake)
	ctx := context.Background()

	content := json.RawMessage(`[{"type":"p","children":[{"text":"revised"}]}]`)
	saved, err := service.SaveDocument(ctx, 2, 7, store.SavePatch{Content: content}, int64Ptr(3))
	if err != nil {
		t.Fatalf("editor save failed: %v", err)
	}
	if saved.Version != 4 {
		t.Errorf("expected version 4 after save, got %d", saved.Version)
	}
	if len(snapshots) != 1 || snapshots[0].Version != 4 || snapshots[0].AuthorID != 2 {
		t.Fatalf("expected one snapshot at version 4 by editor, got %+v", snapshots)
	}

	if err := service.SoftDeleteDocument(ctx, 2, 7); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("editor without delete flag should be denied, got %v", err)
	}

	if err := service.SoftDeleteDocument(ctx, 1, 7); err != nil {
		t.Fatalf("owner soft delete failed: %v", err)
	}

	if _, err := service.LoadDocument(ctx, 2, 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("trashed document should be gone for the editor, got %v", err)
	}
}
