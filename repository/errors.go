package repository

import (
	"errors"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
)

var (
	// ErrValidation is returned for nil objects, empty identities or empty commit ids.
	ErrValidation = eventsourcing.ErrValidation

	// ErrNilObject is returned when a nil aggregate or saga is added or saved.
	ErrNilObject = errors.Join(ErrValidation, errors.New("object must not be nil"))

	// ErrEmptyIdentity is returned when an identity renders as an empty string.
	ErrEmptyIdentity = errors.Join(ErrValidation, errors.New("identity must not be empty"))

	// ErrEmptyCommitID is returned when the commit id is empty.
	ErrEmptyCommitID = errors.Join(ErrValidation, errors.New("commit id must not be empty"))

	// ErrNothingToAdd is returned when an object without pending changes is added, an empty stream cannot be created.
	ErrNothingToAdd = errors.Join(ErrValidation, errors.New("object has no pending changes"))

	// ErrMissingTenant is returned by TenantNamer for identities that carry no tenant.
	ErrMissingTenant = errors.Join(ErrValidation, errors.New("identity carries no tenant"))

	// ErrNilCollaborator is returned by New when the store, the codec or the factory is nil.
	ErrNilCollaborator = errors.Join(ErrValidation, errors.New("store, codec and factory must not be nil"))
)
