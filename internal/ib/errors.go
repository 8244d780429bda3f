package ib

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is matched by every *ConflictError.
	ErrAlreadyExists = errors.New("already exists")

	// ErrRootNode is returned when an operation would remove the favorites root.
	ErrRootNode = errors.New("the favorites root cannot be deleted")
)

// Roles a missing record can play in a NotFoundError.
const (
	RoleNode        = "node"
	RoleParent      = "parent"
	RoleMasterRoot  = "master root"
	RoleChild       = "child"
	RolePost        = "post"
	RoleSavedSearch = "saved search"
)

// NotFoundError reports a missing record and the role it was expected to play.
type NotFoundError struct {
	Role string
	Key  int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Role, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError reports a post that is already a member of a favorites node.
type ConflictError struct {
	Key    int64
	PostID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("post %d already exists in node %d", e.PostID, e.Key)
}

func (e *ConflictError) Unwrap() error { return ErrAlreadyExists }

// nodeRole is the role used when a node looked up by key is missing.
func nodeRole(key int64) string {
	if key == RootKey {
		return RoleMasterRoot
	}
	return RoleNode
}
