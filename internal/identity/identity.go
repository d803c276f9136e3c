// Package identity issues the per-process origin identifier that tags every
// event this instance produces. It is never persisted: a restart is a new origin.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Instance identifies this process on the shared bus.
type Instance struct {
	ID          string // random 128-bit id, text form
	DisplayName string // label shown to operators; not used for filtering
}

// New generates a fresh instance identity.
func New(displayName string) Instance {
	return Instance{
		ID:          uuid.NewString(),
		DisplayName: strings.TrimSpace(displayName),
	}
}

// Short returns the first 8 characters of the id for log lines.
func (i Instance) Short() string {
	if len(i.ID) <= 8 {
		return i.ID
	}
	return i.ID[:8]
}

// IsSelf reports whether origin was produced by this instance.
func (i Instance) IsSelf(origin string) bool {
	return origin != "" && origin == i.ID
}
