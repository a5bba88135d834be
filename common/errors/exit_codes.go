package errors

type ExitCode int

// Exit codes a worker reports when the user's process never produced one.
const (
	PreStageFailureExitCode ExitCode = 70

	CouldNotExecExitCode = 110

	PostStageFailureExitCode = 120

	AbortedExitCode = 130
)
