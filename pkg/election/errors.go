package election

import "errors"

var (
	// ErrConnectStringRequired is returned when the configuration has no
	// ensemble address list.
	ErrConnectStringRequired = errors.New("'connectString' is required")

	// ErrRootPathRequired is returned when the configuration has no election
	// root path.
	ErrRootPathRequired = errors.New("'rootPath' is required")

	// ErrRosterQuery wraps failures to retrieve the live contender roster.
	// The query is idempotent, callers may retry.
	ErrRosterQuery = errors.New("roster query failed")

	// ErrAlreadyStarted is returned when a setter requires the coordinator to
	// be stopped.
	ErrAlreadyStarted = errors.New("election coordinator is already started")
)
