package categorysync

// Environment variable names shared between the CLI and library defaults.
const (
	EnvSourceSheetURL     = "SOURCE_SHEET_URL"
	EnvVerifyMaxRetries   = "VERIFY_MAX_RETRIES"
	EnvVerifyPollInterval = "VERIFY_POLL_INTERVAL"
	EnvWorkers            = "CATSYNC_WORKERS"
	EnvNoJournal          = "CATSYNC_NO_JOURNAL"
)
