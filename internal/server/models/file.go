package models

import (
	"time"

	"github.com/google/uuid"
)

// File is one uploaded object. A file stays invisible in listings until
// IsFullyUploaded is set by finalize.
type File struct {
	ID                uuid.UUID
	Size              int64
	EncryptedMetadata []byte
	MimeType          string
	IsFullyUploaded   bool
	IsDeleted         bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FileAccess is one ACL edge on a file. FolderID is per user: the same
// physical file may appear under different parent folders for different
// recipients, and nil anchors it at the user's top level.
type FileAccess struct {
	ID               uuid.UUID
	FileID           uuid.UUID
	UserID           string
	FolderID         *uuid.UUID
	AccessLevel      AccessLevel
	EncryptedFileKey []byte
	IsDeleted        bool
	IsAccepted       bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Chunk locates one stored piece of a file. Index defines byte order;
// indices are unique per file but need not be contiguous.
type Chunk struct {
	ID        uuid.UUID
	FileID    uuid.UUID
	Index     int32
	ObjectKey string
	CreatedAt time.Time
}

// ListedFolder is a folder as it appears in a listing for one user,
// joined with that user's edge.
type ListedFolder struct {
	Folder
	EncryptedFolderKey []byte
	AccessLevel        AccessLevel
	Size               int64
}

// ListedFile is a file as it appears in a listing for one user.
type ListedFile struct {
	File
	FolderID         *uuid.UUID
	EncryptedFileKey []byte
	AccessLevel      AccessLevel
}

// PathEntry is one breadcrumb node on the way from the top level down to a
// folder. EncryptedFolderKey is nil when the caller holds no edge on that
// ancestor (e.g. a shared subtree whose ancestors were never shared).
type PathEntry struct {
	FolderID           uuid.UUID
	PathIndex          int32
	EncryptedMetadata  []byte
	EncryptedFolderKey []byte
}

// SharedUser is one entry of an item's share list.
type SharedUser struct {
	UserID      string
	AccessLevel AccessLevel
}

// UsageStats summarizes what a user owns.
type UsageStats struct {
	UsedSpace         int64
	FileCount         int64
	FolderCount       int64
	StorageLimitBytes int64
}

// TrashStats summarizes a user's trash view.
type TrashStats struct {
	DeletedSize    int64
	DeletedFiles   int64
	DeletedFolders int64
}
