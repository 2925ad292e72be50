// Package reminder is an example saga on top of the counter domain.
//
// A Reminder follows one counter. Once the counter reaches a threshold it asks for a timeout,
// and when the timeout comes back while the counter is still at or above the threshold it sends
// a NotifyOwner command. Both side effects go through the saga's collaborators, so replaying a
// reminder from its stream never repeats them.
//
// Reactor loads the reminder of a counter, lets it handle an event and saves it, using the event
// id as commit id. Delivering the same event twice is harmless: the saga skips events it has
// handled and the store rejects the repeated commit id.
package reminder
