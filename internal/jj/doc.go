// Package jj drives the Jujutsu version-control engine as a subprocess.
//
// The engine is a text interface: agentjj passes an argument vector,
// waits a bounded time, and consumes stdout, stderr and the exit code.
// A non-zero exit is not an error here. The engine routinely reports
// real outcomes (conflicts, empty diffs, immutable commits) through its
// exit status, so the Executor hands back a Result either way and the
// caller records it as an operation. Only three things are errors: the
// binary is missing, the call exceeded its timeout, or the arguments
// were invalid before anything was spawned.
//
// All process and filesystem access goes through the Runner interface
// so the pure coordination layers above stay host-independent.
package jj
