// Package models defines the persisted drive entities: folders, files,
// their per-user access edges, and chunk locators. All key and metadata
// fields are opaque ciphertext; the server never decrypts them.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Folder is one node of the folder forest. ParentFolderID == nil means the
// folder sits at the top level of its owner's drive.
type Folder struct {
	ID                uuid.UUID
	ParentFolderID    *uuid.UUID
	IsRoot            bool
	EncryptedMetadata []byte
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FolderAccess is one ACL edge: it grants UserID the given level on
// FolderID and carries the folder key wrapped for that user.
//
// IsAccepted is false while a share is pending. IsRootAnchor marks the
// folder where a shared subtree mounts into the recipient's own top-level
// view. IsDeleted is the per-user trash flag.
type FolderAccess struct {
	ID                 uuid.UUID
	FolderID           uuid.UUID
	UserID             string
	AccessLevel        AccessLevel
	EncryptedFolderKey []byte
	IsDeleted          bool
	IsAccepted         bool
	IsRootAnchor       bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
