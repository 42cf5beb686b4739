package protocol

// Canonical error codes. Handlers may return arbitrary domain-specific codes
// on top of these.
const (
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeParseError       Code = "PARSE_ERROR"
	CodeMissingType      Code = "MISSING_TYPE"
	CodeUnknownType      Code = "UNKNOWN_TYPE"
	CodeMethodNotFound   Code = "METHOD_NOT_FOUND"
	CodeTokenRequired    Code = "TOKEN_REQUIRED"
	CodeInvalidToken     Code = "INVALID_TOKEN"
	CodeSystemNotReady   Code = "SYSTEM_NOT_READY"
	CodeHostNotAvailable Code = "MAIN_WINDOW_NOT_AVAILABLE"
	CodeHandlerError     Code = "HANDLER_ERROR"
	CodeWorkerError      Code = "WORKER_ERROR"
	CodeInternalError    Code = "INTERNAL_ERROR"
)
