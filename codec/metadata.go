package codec

import (
	"context"
	"errors"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
)

// ErrMappingToMetadataFailed is returned when the metadata of a StorableEvent cannot be decoded.
var ErrMappingToMetadataFailed = errors.New("mapping to event metadata failed")

// Metadata contains message tracking information that is stored next to every event.
type Metadata struct {
	MessageID     string `json:"MessageID,omitempty"`
	CausationID   string `json:"CausationID,omitempty"`
	CorrelationID string `json:"CorrelationID,omitempty"`
}

// BuildMetadata creates Metadata from UUID values.
func BuildMetadata(messageID uuid.UUID, causationID uuid.UUID, correlationID uuid.UUID) Metadata {
	return Metadata{
		MessageID:     messageID.String(),
		CausationID:   causationID.String(),
		CorrelationID: correlationID.String(),
	}
}

// CausedBy returns Metadata for a message caused by the message described by m.
// The correlation is inherited, or started at m's message if m has none.
func (m Metadata) CausedBy(messageID uuid.UUID) Metadata {
	correlationID := m.CorrelationID
	if correlationID == "" {
		correlationID = m.MessageID
	}

	return Metadata{
		MessageID:     messageID.String(),
		CausationID:   m.MessageID,
		CorrelationID: correlationID,
	}
}

// MetadataFrom decodes the Metadata of a StorableEvent.
func MetadataFrom(storableEvent eventstore.StorableEvent) (Metadata, error) {
	metadata := new(Metadata)

	if err := jsoniter.ConfigFastest.Unmarshal(storableEvent.MetadataJSON, metadata); err != nil {
		return Metadata{}, errors.Join(ErrMappingToMetadataFailed, err)
	}

	return *metadata, nil
}

type metadataKey struct{}

// WithMetadata returns a context that carries metadata. The repository stores it with every event it commits.
func WithMetadata(ctx context.Context, metadata Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, metadata)
}

// MetadataFromContext returns the Metadata carried by ctx, or zero Metadata.
func MetadataFromContext(ctx context.Context) Metadata {
	if metadata, ok := ctx.Value(metadataKey{}).(Metadata); ok {
		return metadata
	}

	return Metadata{}
}
