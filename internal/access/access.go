// Package access decides what a user may do with a document, given
// ownership and an optional share grant. The evaluator is pure: it never
// touches storage, callers pass in whatever grant the grantee holds.
package access

import "lexora/api/internal/store"

func CanRead(doc store.Document, grant *store.ShareGrant, userID int64) bool {
	if doc.OwnerID == userID {
		return true
	}
	return holds(grant, doc.ID, userID)
}

func CanWrite(doc store.Document, grant *store.ShareGrant, userID int64) bool {
	if doc.OwnerID == userID {
		return true
	}
	return holds(grant, doc.ID, userID) && grant.Permission == store.PermissionEdit
}

// CanDelete allows trashing the document: the owner always, an edit grantee
// only when the grant carries the delete flag.
func CanDelete(doc store.Document, grant *store.ShareGrant, userID int64) bool {
	if doc.OwnerID == userID {
		return true
	}
	return holds(grant, doc.ID, userID) && grant.Permission == store.PermissionEdit && grant.CanDelete
}

// CanManageShares is owner-only. Grantees never manage grants, whatever
// their permission level.
func CanManageShares(doc store.Document, userID int64) bool {
	return doc.OwnerID == userID
}

func holds(grant *store.ShareGrant, documentID, userID int64) bool {
	return grant != nil && grant.DocumentID == documentID && grant.GranteeID == userID
}
