package dap

// Unique identifiers for messages returned for errors from requests.
// These values are not mandated by DAP (other than the uniqueness
// requirement), so each implementation is free to choose their own.
const (
	UnsupportedCommand int = 9999
	InternalError      int = 8888

	// Where applicable and for consistency only,
	// values below are inspired the original vscode-go debug adaptor.
	FailedToLaunch            = 3000
	UnableToDisplayThreads    = 2003
	UnableToProduceStackTrace = 2004
	UnableToStep              = 2010
	UnableToContinue          = 2011
)
