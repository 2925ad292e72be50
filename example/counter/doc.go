// Package counter is an example domain built on the eventsourcing runtime.
//
// A Counter is created with an initial value and then increased or decreased. It resolves its
// event handlers by convention: every exported method named When<Something> that takes exactly
// one counter event is found by the dispatch table, no registration needed.
//
// CommandHandler shows the intended shell around an aggregate: load it from the repository,
// call a business method, save it with the command id as commit id, and retry the whole
// attempt on concurrency conflicts.
package counter
