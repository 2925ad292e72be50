// Package dispatch routes events to type-specific handlers of a receiver without hardwired conditionals.
//
// A Table is built once per receiver type, typically in a package-level variable, and shared by all
// instances of that type. Handlers are resolved in two ways:
//   - Explicit registration with On / OnContext, a statically typed map from the concrete event type
//     to a handler function (usually a method expression like (*Counter).whenCreated).
//   - Convention resolution (opt-in via WithConventionHandlers), which looks up an exported method on the
//     receiver whose name starts with the configured prefix and whose single event parameter has
//     exactly the runtime type of the routed event.
//
// Explicit handlers always win. Convention lookups are memoized per table, keyed by
// (receiver type, prefix, event type), so repeated resolutions are a single lock-free map read.
//
// Common usage pattern:
//
//	var counterRoutes = dispatch.NewTable[*Counter]()
//
//	func init() {
//		dispatch.MustOn(counterRoutes, (*Counter).whenCreated)
//		dispatch.MustOn(counterRoutes, (*Counter).whenIncreased)
//	}
//
//	err := counterRoutes.Route(ctx, counter, event)
package dispatch
