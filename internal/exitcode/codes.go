package exitcode

// Exit codes for the ingestion CLI.
// A scheduler can use these to decide whether to rerun the job.
const (
	// Success - every key of the grid was processed or skipped
	Success = 0

	// ConfigError - missing or invalid configuration
	// Don't retry: fix the config first
	ConfigError = 1

	// NetworkError - could not reach a store at startup (DNS, refused connection)
	// Retry later
	NetworkError = 2

	// APIError - a store rejected a request (auth, bad request, missing schema)
	// Check logs, may need manual intervention
	APIError = 3

	// StorageError - store calls kept failing after every retry
	// Rerun later: the run resumes where it stopped
	StorageError = 4

	// ApplicationError - any other failure
	// 5 is unused: unparseable source files are skipped, never fatal
	ApplicationError = 6
)
