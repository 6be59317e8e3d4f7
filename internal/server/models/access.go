package models

import (
	"fmt"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
)

// AccessLevel is the closed, totally ordered set of permissions a user can
// hold on an item: owner > editor > viewer.
type AccessLevel string

const (
	AccessOwner  AccessLevel = "owner"
	AccessEditor AccessLevel = "editor"
	AccessViewer AccessLevel = "viewer"
)

var accessRank = map[AccessLevel]int{
	AccessViewer: 1,
	AccessEditor: 2,
	AccessOwner:  3,
}

// ParseAccessLevel validates a level arriving at the boundary. Unknown
// values are rejected once here so the rest of the code can trust the type.
func ParseAccessLevel(s string) (AccessLevel, error) {
	l := AccessLevel(s)
	if _, ok := accessRank[l]; !ok {
		return "", fmt.Errorf("%w: unknown access level %q", common.ErrInvalidArgument, s)
	}
	return l, nil
}

// AtLeast reports whether l grants at least the rights of min.
func (l AccessLevel) AtLeast(min AccessLevel) bool {
	return accessRank[l] >= accessRank[min]
}

func (l AccessLevel) String() string { return string(l) }
