package models

import (
	"time"

	"github.com/google/uuid"
)

// PendingShare is one incoming share awaiting the recipient's decision.
// Only the topmost item of a shared subtree is reported; accepting it
// pulls the whole subtree in.
type PendingShare struct {
	ItemID            uuid.UUID
	IsFolder          bool
	EncryptedMetadata []byte
	EncryptedKey      []byte
	AccessLevel       AccessLevel
	SharedAt          time.Time
}
