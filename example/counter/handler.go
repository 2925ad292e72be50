package counter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AntonStoeckl/eventsourced-entities-go/codec"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/repository"
	"github.com/AntonStoeckl/eventsourced-entities-go/shell"
)

// ErrEmptyCommandID is returned for commands without a command id.
var ErrEmptyCommandID = errors.Join(repository.ErrValidation, errors.New("command id must not be empty"))

// Repository is the repository the CommandHandler works with.
type Repository = repository.Repository[*Counter, ID]

// NewRepository creates a counter repository on store.
func NewRepository(store eventstore.StreamStore, eventCodec repository.Codec, options ...repository.Option) (*Repository, error) {
	options = append([]repository.Option{repository.WithEntityType("Counter")}, options...)

	return repository.New[*Counter, ID](store, eventCodec, New, options...)
}

// CommandHandler executes counter commands.
//
// The command id is the commit id, so a command that is delivered twice is committed once:
// the second delivery fails with eventstore.ErrDuplicateCommit, which the handler reports as success.
type CommandHandler struct {
	repo         *Repository
	retryOptions []shell.RetryOption
	logger       *slog.Logger
	now          func() time.Time
}

// HandlerOption configures a CommandHandler.
type HandlerOption func(*CommandHandler)

// WithRetryOptions sets the options for retrying on concurrency conflicts.
func WithRetryOptions(options ...shell.RetryOption) HandlerOption {
	return func(h *CommandHandler) {
		h.retryOptions = options
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *CommandHandler) {
		h.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *CommandHandler) {
		h.now = now
	}
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(repo *Repository, options ...HandlerOption) *CommandHandler {
	h := &CommandHandler{
		repo:   repo,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}

	for _, option := range options {
		option(h)
	}

	return h
}

// HandleCreate creates a counter.
func (h *CommandHandler) HandleCreate(ctx context.Context, cmd CreateCounter) error {
	if cmd.CommandID == "" {
		return ErrEmptyCommandID
	}

	ctx = h.withCommandMetadata(ctx, cmd.CommandID)

	c, err := Create(cmd.CounterID, cmd.Initial, h.now())
	if err != nil {
		return err
	}

	err = h.repo.Add(ctx, c, cmd.CommandID)
	if errors.Is(err, eventstore.ErrStreamAlreadyExists) {
		return errors.Join(ErrAlreadyCreated, err)
	}

	return h.acceptDuplicate(ctx, cmd.CommandType(), cmd.CommandID, err)
}

// HandleIncrease increases a counter.
func (h *CommandHandler) HandleIncrease(ctx context.Context, cmd IncreaseCounter) error {
	return h.change(ctx, cmd.CommandType(), cmd.CommandID, cmd.CounterID, func(c *Counter) error {
		return c.Increase(cmd.By, h.now())
	})
}

// HandleDecrease decreases a counter.
func (h *CommandHandler) HandleDecrease(ctx context.Context, cmd DecreaseCounter) error {
	return h.change(ctx, cmd.CommandType(), cmd.CommandID, cmd.CounterID, func(c *Counter) error {
		return c.Decrease(cmd.By, h.now())
	})
}

func (h *CommandHandler) change(
	ctx context.Context,
	commandType string,
	commandID string,
	id ID,
	decide func(c *Counter) error,
) error {

	if commandID == "" {
		return ErrEmptyCommandID
	}

	ctx = h.withCommandMetadata(ctx, commandID)

	result, err := shell.RetryOnConflict(ctx, func(ctx context.Context) error {
		c, err := h.repo.OfIdentity(ctx, id)
		if err != nil {
			return err
		}

		if err = decide(c); err != nil {
			return err
		}

		return h.repo.Save(ctx, c, commandID)
	}, h.retryOptions...)

	if result.Attempts > 1 {
		h.logger.InfoContext(ctx, "command needed retries", "command_type", commandType, "attempts", result.Attempts)
	}

	return h.acceptDuplicate(ctx, commandType, commandID, err)
}

func (h *CommandHandler) acceptDuplicate(ctx context.Context, commandType, commandID string, err error) error {
	if errors.Is(err, eventstore.ErrDuplicateCommit) {
		h.logger.InfoContext(ctx, "command was already handled", "command_type", commandType, "command_id", commandID)
		return nil
	}

	return err
}

func (h *CommandHandler) withCommandMetadata(ctx context.Context, commandID string) context.Context {
	if codec.MetadataFromContext(ctx).MessageID != "" {
		return ctx
	}

	return codec.WithMetadata(ctx, codec.Metadata{MessageID: commandID})
}
