// Package hooks coordinates agent session lifecycles around the
// engine.
//
// Each session runs a small state machine: Idle, TaskStarted after the
// pre-task hook, Editing after any post-edit hook, back to Idle when
// the post-task hook closes the session and returns everything it
// recorded. Hooks called out of order fail with ErrInvalidState.
//
// Sessions are fully independent. The coordinator never locks across
// sessions during command execution, so any number of agents proceed
// concurrently; ordering exists only within one session, and the
// shared operation log serializes the underlying writes.
//
// The coordinator is also the gate: commands classified high-risk are
// refused for autonomous execution unless the call carries an explicit
// override.
package hooks
