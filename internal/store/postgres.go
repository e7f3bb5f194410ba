package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Store-level sentinels for the two failure modes the save path must tell
// apart. The service layer maps them onto its error taxonomy.
var (
	// ErrVersionMismatch means the conditional update found a version other
	// than the caller's expected one. Caller must reload and retry.
	ErrVersionMismatch = errors.New("stored version differs from expected")
	// ErrSnapshotSequence means a snapshot append was attempted with a
	// version number that does not continue the document's history. This is
	// an invariant violation, not a user error.
	ErrSnapshotSequence = errors.New("snapshot version out of sequence")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, created_at FROM users WHERE display_name = $1`, name).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name)
		VALUES ($1)
		RETURNING id, display_name, created_at
	`, name).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

const documentColumns = `id, title, content, folder_ref, owner_id, edited_by, version, description, tags, created_at, updated_at, deleted_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var doc Document
	var tagsRaw []byte
	err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Content,
		&doc.FolderRef,
		&doc.OwnerID,
		&doc.EditedBy,
		&doc.Version,
		&doc.Description,
		&tagsRaw,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&doc.DeletedAt,
	)
	if err != nil {
		return Document{}, err
	}
	if len(tagsRaw) > 0 {
		_ = json.Unmarshal(tagsRaw, &doc.Tags)
	}
	return doc, nil
}

func encodeTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return encoded, nil
}

// CreateDocument inserts the document at version 1 together with its first
// snapshot, as one transaction.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	tags, err := encodeTags(doc.Tags)
	if err != nil {
		return Document{}, err
	}
	content := doc.Content
	if len(content) == 0 {
		content = json.RawMessage(`[]`)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin create document: %w", err)
	}
	defer tx.Rollback()

	created, err := scanDocument(tx.QueryRowContext(ctx, `
		INSERT INTO documents (title, content, folder_ref, owner_id, version, description, tags)
		VALUES ($1, $2, $3, $4, 1, $5, $6::jsonb)
		RETURNING `+documentColumns+`
	`, doc.Title, []byte(content), doc.FolderRef, doc.OwnerID, doc.Description, tags))
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}

	if err := appendSnapshotTx(ctx, tx, created.ID, 1, created.Title, created.Content, doc.OwnerID); err != nil {
		return Document{}, err
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit create document: %w", err)
	}
	return created, nil
}

// GetDocument returns the current row. Trashed documents are only visible
// when includeDeleted is set; otherwise they behave as absent.
func (s *PostgresStore) GetDocument(ctx context.Context, documentID int64, includeDeleted bool) (Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id=$1 AND ($2::boolean OR deleted_at IS NULL)
	`, documentID, includeDeleted))
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// ListDocumentsForUser returns active documents the user owns or holds a
// share grant on, most recently updated first.
func (s *PostgresStore) ListDocumentsForUser(ctx context.Context, userID int64) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		WHERE d.deleted_at IS NULL
		  AND (d.owner_id = $1
		       OR EXISTS(SELECT 1 FROM share_grants g WHERE g.document_id = d.id AND g.grantee_id = $1))
		ORDER BY d.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// ListTrash returns the caller's soft-deleted documents.
func (s *PostgresStore) ListTrash(ctx context.Context, userID int64) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE owner_id=$1 AND deleted_at IS NOT NULL
		ORDER BY deleted_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list trash: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trashed document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trash: %w", err)
	}
	return items, nil
}

// SaveDocument is the conditional-update primitive behind every accepted
// save: apply the patch only if the stored version still equals
// expectedVersion, bump the version by exactly one, and append the snapshot
// for the new version. Row update and snapshot append commit or fail as a
// unit.
func (s *PostgresStore) SaveDocument(ctx context.Context, documentID int64, patch SavePatch, editorID, expectedVersion int64) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	current, err := scanDocument(tx.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id=$1 AND deleted_at IS NULL
		FOR UPDATE
	`, documentID))
	if err != nil {
		return Document{}, err
	}
	if current.Version != expectedVersion {
		return Document{}, ErrVersionMismatch
	}

	title := current.Title
	if patch.Title != nil {
		title = *patch.Title
	}
	content := current.Content
	if patch.Content != nil {
		content = patch.Content
	}
	description := current.Description
	if patch.Description != nil {
		description = patch.Description
	}
	tags := current.Tags
	if patch.Tags != nil {
		tags = patch.Tags
	}
	encodedTags, err := encodeTags(tags)
	if err != nil {
		return Document{}, err
	}

	updated, err := scanDocument(tx.QueryRowContext(ctx, `
		UPDATE documents
		SET title=$2, content=$3, description=$4, tags=$5::jsonb,
		    version=version+1, edited_by=$6, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL AND version=$7
		RETURNING `+documentColumns+`
	`, documentID, title, []byte(content), description, encodedTags, editorID, expectedVersion))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrVersionMismatch
	}
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}

	if err := appendSnapshotTx(ctx, tx, documentID, updated.Version, updated.Title, updated.Content, editorID); err != nil {
		return Document{}, err
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit save: %w", err)
	}
	return updated, nil
}

// appendSnapshotTx records one immutable history row. The version passed in
// must continue the history exactly (previous max + 1); anything else means
// the save/snapshot pairing upstream is broken and the append fails fast.
func appendSnapshotTx(ctx context.Context, tx *sql.Tx, documentID, version int64, title string, content json.RawMessage, authorID int64) error {
	var maxVersion int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM document_versions WHERE document_id=$1`,
		documentID).Scan(&maxVersion)
	if err != nil {
		return fmt.Errorf("read snapshot head: %w", err)
	}
	if version != maxVersion+1 {
		return fmt.Errorf("append snapshot for document %d: have %d, got %d: %w",
			documentID, maxVersion, version, ErrSnapshotSequence)
	}

	if len(content) == 0 {
		content = json.RawMessage(`[]`)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, version, title, content, author_id)
		VALUES ($1, $2, $3, $4, $5)
	`, documentID, version, title, []byte(content), authorID)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, documentID int64) ([]VersionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.document_id, v.version, v.title, v.content, v.author_id, COALESCE(u.display_name, ''), v.created_at
		FROM document_versions v
		LEFT JOIN users u ON u.id = v.author_id
		WHERE v.document_id=$1
		ORDER BY v.version DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	items := make([]VersionSnapshot, 0)
	for rows.Next() {
		var item VersionSnapshot
		if err := rows.Scan(
			&item.ID,
			&item.DocumentID,
			&item.Version,
			&item.Title,
			&item.Content,
			&item.AuthorID,
			&item.AuthorName,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, documentID, version int64) (VersionSnapshot, error) {
	var item VersionSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT v.id, v.document_id, v.version, v.title, v.content, v.author_id, COALESCE(u.display_name, ''), v.created_at
		FROM document_versions v
		LEFT JOIN users u ON u.id = v.author_id
		WHERE v.document_id=$1 AND v.version=$2
	`, documentID, version).Scan(
		&item.ID,
		&item.DocumentID,
		&item.Version,
		&item.Title,
		&item.Content,
		&item.AuthorID,
		&item.AuthorName,
		&item.CreatedAt,
	)
	if err != nil {
		return VersionSnapshot{}, err
	}
	return item, nil
}

// SoftDeleteDocument moves an active document to the trash. Version and
// snapshots are untouched.
func (s *PostgresStore) SoftDeleteDocument(ctx context.Context, documentID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET deleted_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, documentID)
	if err != nil {
		return false, fmt.Errorf("soft delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) RestoreDocument(ctx context.Context, documentID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET deleted_at=NULL
		WHERE id=$1 AND deleted_at IS NOT NULL
	`, documentID)
	if err != nil {
		return false, fmt.Errorf("restore document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("restore rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteDocumentPermanently removes the document together with its history
// and grants. Irreversible.
func (s *PostgresStore) DeleteDocumentPermanently(ctx context.Context, documentID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin permanent delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM share_grants WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_versions WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit permanent delete: %w", err)
	}
	return nil
}

// GetShareGrant returns the grant held by a user on a document, or nil when
// none exists.
func (s *PostgresStore) GetShareGrant(ctx context.Context, documentID, granteeID int64) (*ShareGrant, error) {
	var item ShareGrant
	err := s.db.QueryRowContext(ctx, `
		SELECT g.id, g.document_id, g.grantee_id, COALESCE(u.display_name, ''), g.permission, g.can_delete, g.granted_by, g.created_at
		FROM share_grants g
		LEFT JOIN users u ON u.id = g.grantee_id
		WHERE g.document_id=$1 AND g.grantee_id=$2
	`, documentID, granteeID).Scan(
		&item.ID,
		&item.DocumentID,
		&item.GranteeID,
		&item.GranteeName,
		&item.Permission,
		&item.CanDelete,
		&item.GrantedBy,
		&item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share grant: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) GetShareGrantByID(ctx context.Context, grantID int64) (ShareGrant, error) {
	var item ShareGrant
	err := s.db.QueryRowContext(ctx, `
		SELECT g.id, g.document_id, g.grantee_id, COALESCE(u.display_name, ''), g.permission, g.can_delete, g.granted_by, g.created_at
		FROM share_grants g
		LEFT JOIN users u ON u.id = g.grantee_id
		WHERE g.id=$1
	`, grantID).Scan(
		&item.ID,
		&item.DocumentID,
		&item.GranteeID,
		&item.GranteeName,
		&item.Permission,
		&item.CanDelete,
		&item.GrantedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return ShareGrant{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListShareGrants(ctx context.Context, documentID int64) ([]ShareGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.document_id, g.grantee_id, COALESCE(u.display_name, ''), g.permission, g.can_delete, g.granted_by, g.created_at
		FROM share_grants g
		LEFT JOIN users u ON u.id = g.grantee_id
		WHERE g.document_id=$1
		ORDER BY g.created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list share grants: %w", err)
	}
	defer rows.Close()

	items := make([]ShareGrant, 0)
	for rows.Next() {
		var item ShareGrant
		if err := rows.Scan(
			&item.ID,
			&item.DocumentID,
			&item.GranteeID,
			&item.GranteeName,
			&item.Permission,
			&item.CanDelete,
			&item.GrantedBy,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan share grant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate share grants: %w", err)
	}
	return items, nil
}

// UpsertShareGrant creates or replaces the single grant for a
// (document, grantee) pair.
func (s *PostgresStore) UpsertShareGrant(ctx context.Context, grant ShareGrant) (ShareGrant, error) {
	var item ShareGrant
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO share_grants (document_id, grantee_id, permission, can_delete, granted_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id, grantee_id)
		DO UPDATE SET permission=EXCLUDED.permission, can_delete=EXCLUDED.can_delete, granted_by=EXCLUDED.granted_by
		RETURNING id, document_id, grantee_id, permission, can_delete, granted_by, created_at
	`, grant.DocumentID, grant.GranteeID, grant.Permission, grant.CanDelete, grant.GrantedBy).Scan(
		&item.ID,
		&item.DocumentID,
		&item.GranteeID,
		&item.Permission,
		&item.CanDelete,
		&item.GrantedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return ShareGrant{}, fmt.Errorf("upsert share grant: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateShareGrant(ctx context.Context, grantID int64, permission *Permission, canDelete *bool) (ShareGrant, error) {
	var item ShareGrant
	err := s.db.QueryRowContext(ctx, `
		UPDATE share_grants
		SET permission=COALESCE($2::text, permission), can_delete=COALESCE($3::boolean, can_delete)
		WHERE id=$1
		RETURNING id, document_id, grantee_id, permission, can_delete, granted_by, created_at
	`, grantID, permission, canDelete).Scan(
		&item.ID,
		&item.DocumentID,
		&item.GranteeID,
		&item.Permission,
		&item.CanDelete,
		&item.GrantedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return ShareGrant{}, fmt.Errorf("update share grant: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) RemoveShareGrant(ctx context.Context, grantID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM share_grants WHERE id=$1`, grantID)
	if err != nil {
		return fmt.Errorf("remove share grant: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
