package observe

import "errors"

// ErrMissingToolName indicates ToolMeta.Name is empty.
var ErrMissingToolName = errors.New("observe: tool name is required")

// RedactedFields lists field keys that are automatically redacted in logs.
// These fields may contain sensitive information like credentials or secrets
// that toolctl's gates would otherwise attach verbatim (e.g. a tool's raw
// input payload).
var RedactedFields = []string{
	"input",
	"inputs",
	"password",
	"secret",
	"token",
	"api_key",
	"apiKey",
	"credential",
}
