package dispatch

const defaultHandlerPrefix = "When"

// Logger interface for debug output about handler resolution.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type options struct {
	conventions   bool
	prefix        string
	ignoreUnknown bool
	logger        Logger
}

// Option defines a functional option for configuring a Table.
type Option func(*options)

// WithConventionHandlers enables convention resolution with the given method name prefix.
// An empty prefix selects the default prefix "When".
func WithConventionHandlers(prefix string) Option {
	return func(o *options) {
		if prefix == "" {
			prefix = defaultHandlerPrefix
		}

		o.conventions = true
		o.prefix = prefix
	}
}

// WithIgnoreUnknownEvents makes Route a no-op for events without a handler instead of failing with ErrHandlerNotFound.
func WithIgnoreUnknownEvents() Option {
	return func(o *options) {
		o.ignoreUnknown = true
	}
}

// WithLogger sets the logger for the Table.
// The logger receives a debug message whenever a convention lookup is resolved for the first time.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
