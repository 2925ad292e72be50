package counter

import (
	"github.com/google/uuid"
)

// ID identifies a Counter.
type ID string

// NewID creates a random, time-ordered counter identity.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()).String())
}

func (id ID) String() string {
	return string(id)
}
