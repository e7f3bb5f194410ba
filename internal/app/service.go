package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lexora/api/internal/access"
	"lexora/api/internal/auth"
	"lexora/api/internal/config"
	"lexora/api/internal/store"
)

const maxTitleLength = 500

// Session identifies the authenticated caller of an operation.
type Session struct {
	Token     string
	UserID    int64
	UserName  string
	ExpiresAt time.Time
}

type CreateDocumentInput struct {
	Title       string          `json:"title"`
	Content     json.RawMessage `json:"content,omitempty"`
	FolderRef   *int64          `json:"folderRef"`
	Description *string         `json:"description"`
	Tags        []string        `json:"tags"`
}

type ShareInput struct {
	GranteeID  int64            `json:"granteeId"`
	Permission store.Permission `json:"permission"`
	CanDelete  bool             `json:"canDelete"`
}

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, int64) (store.User, error)
	CreateDocument(context.Context, store.Document) (store.Document, error)
	GetDocument(context.Context, int64, bool) (store.Document, error)
	ListDocumentsForUser(context.Context, int64) ([]store.Document, error)
	ListTrash(context.Context, int64) ([]store.Document, error)
	SaveDocument(context.Context, int64, store.SavePatch, int64, int64) (store.Document, error)
	ListSnapshots(context.Context, int64) ([]store.VersionSnapshot, error)
	GetSnapshot(context.Context, int64, int64) (store.VersionSnapshot, error)
	SoftDeleteDocument(context.Context, int64) (bool, error)
	RestoreDocument(context.Context, int64) (bool, error)
	DeleteDocumentPermanently(context.Context, int64) error
	GetShareGrant(context.Context, int64, int64) (*store.ShareGrant, error)
	GetShareGrantByID(context.Context, int64) (store.ShareGrant, error)
	ListShareGrants(context.Context, int64) ([]store.ShareGrant, error)
	UpsertShareGrant(context.Context, store.ShareGrant) (store.ShareGrant, error)
	UpdateShareGrant(context.Context, int64, *store.Permission, *bool) (store.ShareGrant, error)
	RemoveShareGrant(context.Context, int64) error
	Ping(ctx context.Context) error
}

// archiveStore receives the final state of a document right before it is
// destroyed for good.
type archiveStore interface {
	ArchiveDocument(ctx context.Context, doc store.Document, history []store.VersionSnapshot) error
}

type Service struct {
	cfg     config.Config
	store   dataStore
	archive archiveStore
}

func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	return &Service{cfg: cfg, store: dataStore}
}

// NewWithArchive wires an archive sink for permanent deletes.
func NewWithArchive(cfg config.Config, dataStore *store.PostgresStore, archive archiveStore) *Service {
	return &Service{cfg: cfg, store: dataStore, archive: archive}
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		return Session{}, domainError(http.StatusBadRequest, "INVALID_NAME", "Name is required", nil)
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: user.ID, UserName: user.DisplayName, ExpiresAt: expiresAt}, nil
}

// SessionFromToken resolves the current user from a bearer token. Every
// protected operation goes through here first.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, ErrUnauthenticated
	}
	userID, err := claims.UserID()
	if err != nil {
		return Session{}, ErrUnauthenticated
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrUnauthenticated
	}
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: user.ID, UserName: user.DisplayName, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (s *Service) CreateDocument(ctx context.Context, userID int64, input CreateDocumentInput) (store.Document, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" || len(title) > maxTitleLength {
		return store.Document{}, domainError(http.StatusBadRequest, "INVALID_TITLE", "Title is required and must be at most 500 characters", nil)
	}
	return s.store.CreateDocument(ctx, store.Document{
		Title:       title,
		Content:     input.Content,
		FolderRef:   input.FolderRef,
		OwnerID:     userID,
		Description: input.Description,
		Tags:        input.Tags,
	})
}

// LoadDocument returns the current document for a reader. Trashed or absent
// documents are NotFound; readers without access get AccessDenied.
func (s *Service) LoadDocument(ctx context.Context, userID, documentID int64) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID, false)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, ErrNotFound
	}
	if err != nil {
		return store.Document{}, err
	}
	grant, err := s.grantFor(ctx, doc, userID)
	if err != nil {
		return store.Document{}, err
	}
	if !access.CanRead(doc, grant, userID) {
		return store.Document{}, ErrAccessDenied
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, userID int64) ([]store.Document, error) {
	return s.store.ListDocumentsForUser(ctx, userID)
}

func (s *Service) ListTrash(ctx context.Context, userID int64) ([]store.Document, error) {
	return s.store.ListTrash(ctx, userID)
}

// SaveDocument is the single write path for document state. The whole save
// is rejected before anything is touched when the caller cannot write, and
// a stale expectedVersion is a conflict the caller must reconcile — there is
// no merge. When expectedVersion is nil the stored version is used, which
// turns the optimistic check off for that one call.
func (s *Service) SaveDocument(ctx context.Context, userID, documentID int64, patch store.SavePatch, expectedVersion *int64) (store.Document, error) {
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" || len(title) > maxTitleLength {
			return store.Document{}, domainError(http.StatusBadRequest, "INVALID_TITLE", "Title is required and must be at most 500 characters", nil)
		}
		patch.Title = &title
	}

	doc, err := s.store.GetDocument(ctx, documentID, false)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, ErrNotFound
	}
	if err != nil {
		return store.Document{}, err
	}
	grant, err := s.grantFor(ctx, doc, userID)
	if err != nil {
		return store.Document{}, err
	}
	if !access.CanWrite(doc, grant, userID) {
		return store.Document{}, ErrAccessDenied
	}

	expected := doc.Version
	if expectedVersion != nil {
		expected = *expectedVersion
	}

	updated, err := s.store.SaveDocument(ctx, documentID, patch, userID, expected)
	if errors.Is(err, store.ErrVersionMismatch) {
		if current, fetchErr := s.store.GetDocument(ctx, documentID, false); fetchErr == nil {
			return store.Document{}, versionConflict(current.Version)
		}
		return store.Document{}, ErrVersionConflict
	}
	if errors.Is(err, store.ErrSnapshotSequence) {
		return store.Document{}, fmt.Errorf("save document %d: %w", documentID, ErrVersionSequence)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, ErrNotFound
	}
	if err != nil {
		return store.Document{}, err
	}
	return updated, nil
}

func (s *Service) ListVersions(ctx context.Context, userID, documentID int64) ([]store.VersionSnapshot, error) {
	if _, err := s.LoadDocument(ctx, userID, documentID); err != nil {
		return nil, err
	}
	return s.store.ListSnapshots(ctx, documentID)
}

func (s *Service) GetVersion(ctx context.Context, userID, documentID, version int64) (store.VersionSnapshot, error) {
	if _, err := s.LoadDocument(ctx, userID, documentID); err != nil {
		return store.VersionSnapshot{}, err
	}
	snapshot, err := s.store.GetSnapshot(ctx, documentID, version)
	if errors.Is(err, sql.ErrNoRows) {
		return store.VersionSnapshot{}, domainError(http.StatusNotFound, "NOT_FOUND", "Version not found", nil)
	}
	return snapshot, err
}

// RestoreVersion writes a historical snapshot back as the new current
// content. The restore goes through the normal save path, so it produces a
// fresh incremented version and never rewrites history.
func (s *Service) RestoreVersion(ctx context.Context, userID, documentID, version int64) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID, false)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, ErrNotFound
	}
	if err != nil {
		return store.Document{}, err
	}
	grant, err := s.grantFor(ctx, doc, userID)
	if err != nil {
		return store.Document{}, err
	}
	if !access.CanWrite(doc, grant, userID) {
		return store.Document{}, ErrAccessDenied
	}

	snapshot, err := s.store.GetSnapshot(ctx, documentID, version)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, domainError(http.StatusNotFound, "NOT_FOUND", "Version not found", nil)
	}
	if err != nil {
		return store.Document{}, err
	}

	return s.SaveDocument(ctx, userID, documentID, store.SavePatch{
		Title:   &snapshot.Title,
		Content: snapshot.Content,
	}, &doc.Version)
}

// SoftDeleteDocument moves a document to the trash. Version and history are
// untouched, and the document disappears from loads and listings until
// restored.
func (s *Service) SoftDeleteDocument(ctx context.Context, userID, documentID int64) error {
	doc, err := s.store.GetDocument(ctx, documentID, false)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	grant, err := s.grantFor(ctx, doc, userID)
	if err != nil {
		return err
	}
	if !access.CanDelete(doc, grant, userID) {
		return ErrAccessDenied
	}

	deleted, err := s.store.SoftDeleteDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

func (s *Service) RestoreFromTrash(ctx context.Context, userID, documentID int64) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID, true)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, ErrNotFound
	}
	if err != nil {
		return store.Document{}, err
	}
	if doc.OwnerID != userID {
		return store.Document{}, ErrAccessDenied
	}
	if !doc.Trashed() {
		return store.Document{}, domainError(http.StatusConflict, "NOT_TRASHED", "Document is not in the trash", nil)
	}

	restored, err := s.store.RestoreDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if !restored {
		return store.Document{}, ErrNotFound
	}
	return s.store.GetDocument(ctx, documentID, false)
}

// PermanentlyDeleteDocument destroys the document, its history and its
// grants together. When an archive sink is configured the final state is
// archived first; an archive failure aborts the destruction.
func (s *Service) PermanentlyDeleteDocument(ctx context.Context, userID, documentID int64) error {
	doc, err := s.store.GetDocument(ctx, documentID, true)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if doc.OwnerID != userID {
		return ErrAccessDenied
	}

	if s.archive != nil {
		history, err := s.store.ListSnapshots(ctx, documentID)
		if err != nil {
			return err
		}
		if err := s.archive.ArchiveDocument(ctx, doc, history); err != nil {
			return fmt.Errorf("archive before delete: %w", ErrTransport)
		}
	}

	return s.store.DeleteDocumentPermanently(ctx, documentID)
}

func (s *Service) ListShares(ctx context.Context, userID, documentID int64) ([]store.ShareGrant, error) {
	doc, err := s.store.GetDocument(ctx, documentID, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !access.CanManageShares(doc, userID) {
		return nil, ErrAccessDenied
	}
	return s.store.ListShareGrants(ctx, documentID)
}

func (s *Service) ShareDocument(ctx context.Context, userID, documentID int64, input ShareInput) (store.ShareGrant, error) {
	if input.Permission != store.PermissionView && input.Permission != store.PermissionEdit {
		return store.ShareGrant{}, domainError(http.StatusBadRequest, "INVALID_PERMISSION", "Permission must be view or edit", nil)
	}

	doc, err := s.store.GetDocument(ctx, documentID, false)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ShareGrant{}, ErrNotFound
	}
	if err != nil {
		return store.ShareGrant{}, err
	}
	if !access.CanManageShares(doc, userID) {
		return store.ShareGrant{}, ErrAccessDenied
	}
	if input.GranteeID == userID {
		return store.ShareGrant{}, domainError(http.StatusBadRequest, "INVALID_GRANTEE", "Cannot share a document with yourself", nil)
	}
	if _, err := s.store.GetUserByID(ctx, input.GranteeID); errors.Is(err, sql.ErrNoRows) {
		return store.ShareGrant{}, domainError(http.StatusNotFound, "USER_NOT_FOUND", "Grantee does not exist", nil)
	} else if err != nil {
		return store.ShareGrant{}, err
	}

	canDelete := input.CanDelete && input.Permission == store.PermissionEdit
	return s.store.UpsertShareGrant(ctx, store.ShareGrant{
		DocumentID: documentID,
		GranteeID:  input.GranteeID,
		Permission: input.Permission,
		CanDelete:  canDelete,
		GrantedBy:  userID,
	})
}

func (s *Service) UpdateShare(ctx context.Context, userID, grantID int64, permission *store.Permission, canDelete *bool) (store.ShareGrant, error) {
	if permission != nil && *permission != store.PermissionView && *permission != store.PermissionEdit {
		return store.ShareGrant{}, domainError(http.StatusBadRequest, "INVALID_PERMISSION", "Permission must be view or edit", nil)
	}

	grant, err := s.store.GetShareGrantByID(ctx, grantID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ShareGrant{}, domainError(http.StatusNotFound, "NOT_FOUND", "Share grant not found", nil)
	}
	if err != nil {
		return store.ShareGrant{}, err
	}

	doc, err := s.store.GetDocument(ctx, grant.DocumentID, true)
	if err != nil {
		return store.ShareGrant{}, err
	}
	if !access.CanManageShares(doc, userID) {
		return store.ShareGrant{}, ErrAccessDenied
	}
	if grant.GranteeID == userID {
		return store.ShareGrant{}, domainError(http.StatusBadRequest, "INVALID_GRANTEE", "Cannot change your own grant", nil)
	}

	return s.store.UpdateShareGrant(ctx, grantID, permission, canDelete)
}

func (s *Service) RemoveShare(ctx context.Context, userID, grantID int64) error {
	grant, err := s.store.GetShareGrantByID(ctx, grantID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Share grant not found", nil)
	}
	if err != nil {
		return err
	}

	doc, err := s.store.GetDocument(ctx, grant.DocumentID, true)
	if err != nil {
		return err
	}
	if !access.CanManageShares(doc, userID) {
		return ErrAccessDenied
	}

	return s.store.RemoveShareGrant(ctx, grantID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AutosaveDebounce is the configured window editing sessions wait before
// flushing an edit burst.
func (s *Service) AutosaveDebounce() time.Duration {
	return s.cfg.AutosaveDebounce
}

func (s *Service) grantFor(ctx context.Context, doc store.Document, userID int64) (*store.ShareGrant, error) {
	if doc.OwnerID == userID {
		return nil, nil
	}
	return s.store.GetShareGrant(ctx, doc.ID, userID)
}
