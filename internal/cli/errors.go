package cli

import "errors"

var (
	// ErrNoBackends is returned when no backend could be set up.
	ErrNoBackends = errors.New("no package backend available; run 'discover doctor' for details")

	// ErrBackendUnavailable is returned when the backend chosen with --backend could not be set up.
	ErrBackendUnavailable = errors.New("backend not available")

	// ErrResourceNotFound is returned when a name matches no resource.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrSourceNotFound is returned when no backend has a source with the given name.
	ErrSourceNotFound = errors.New("source not found")

	// ErrAmbiguous is returned when a name needs --backend to be unique.
	ErrAmbiguous = errors.New("ambiguous name")

	// ErrNothingToDo is returned when every named resource is already in the requested state.
	ErrNothingToDo = errors.New("nothing to do")

	// ErrTransactionsFailed is returned when at least one transaction did not finish.
	ErrTransactionsFailed = errors.New("some transactions did not complete")

	// ErrNothingToUndo is returned when the journal has no reversible entry.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrAborted is returned when the user aborts an operation.
	ErrAborted = errors.New("operation aborted by user")
)
