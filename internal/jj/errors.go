package jj

import "errors"

var (
	// ErrEngineNotFound indicates the engine binary is absent from the
	// configured path and PATH lookup.
	ErrEngineNotFound = errors.New("engine binary not found")

	// ErrTimedOut indicates the subprocess exceeded its timeout and was
	// terminated.
	ErrTimedOut = errors.New("engine command timed out")

	// ErrInvalidInput indicates empty or malformed arguments rejected
	// before any subprocess was spawned.
	ErrInvalidInput = errors.New("invalid command input")

	// ErrNotRepository indicates no Jujutsu workspace was found at or
	// above the configured repository path.
	ErrNotRepository = errors.New("not a jujutsu repository")
)
