package main

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (invalid config, unusable output root, index)
	ExitDataError   = 3 // Data error (unreadable archive, no sources, unknown run)
)
