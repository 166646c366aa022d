package autorole

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKey = errors.New("invalid invite key")

	// ErrNotFound is the root of every "absent" error below.
	ErrNotFound       = errors.New("not found")
	ErrInviteNotFound = fmt.Errorf("invite %w", ErrNotFound)
	ErrRoleNotFound   = fmt.Errorf("role %w", ErrNotFound)
	ErrRoleNotLinked  = fmt.Errorf("role not linked: %w", ErrNotFound)
	ErrLinkNotFound   = fmt.Errorf("link %w", ErrNotFound)

	ErrHierarchyViolation = errors.New("role is at or above the service's highest role")
	ErrDuplicateLink      = errors.New("role is already linked to this invite")
	ErrUserCancelled      = errors.New("cancelled by moderator")
	ErrPermissionLost     = errors.New("required permission missing")
	ErrTransientFetch     = errors.New("invite fetch failed")

	// ErrForbidden is returned by a Directory when the service lacks the
	// permission the call needs.
	ErrForbidden = errors.New("forbidden")
)
