package errors

// Template defines a registered error type.
type Template struct {
	Category   Category
	Message    string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// Config (SM100-SM199)
	"SM101": {
		Category:   CategoryConfig,
		Message:    "Config file could not be read",
		Suggestion: "Pass an existing file with --config",
	},
	"SM102": {
		Category: CategoryConfig,
		Message:  "Config file is not valid YAML or JSON",
	},
	"SM103": {
		Category: CategoryConfig,
		Message:  "Invalid environment override",
	},
	"SM110": {
		Category: CategoryConfig,
		Message:  "Invalid watch delay (0-1000 [milliseconds])",
	},
	"SM111": {
		Category: CategoryConfig,
		Message:  "Invalid web port (1-65535)",
	},
	"SM112": {
		Category: CategoryConfig,
		Message:  "Invalid message size limit (>=1000 [bytes])",
	},
	"SM113": {
		Category:   CategoryConfig,
		Message:    "Default file was not found",
		Suggestion: "Create the file or set web.defaultFile",
	},
	"SM114": {
		Category: CategoryConfig,
		Message:  "Invalid cache format (off, file, sql, document)",
	},
	"SM115": {
		Category: CategoryConfig,
		Message:  "Invalid cache interval (1-3600 [seconds])",
	},
	"SM116": {
		Category: CategoryConfig,
		Message:  "Invalid log format (off, stdout, file, sql)",
	},
	"SM117": {
		Category:   CategoryConfig,
		Message:    "Cannot access log path",
		Suggestion: "Create the directory or set log.path",
	},
	"SM118": {
		Category: CategoryConfig,
		Message:  "Invalid database (none, sql, document)",
	},
	"SM119": {
		Category:   CategoryConfig,
		Message:    "Missing backend settings",
		Suggestion: "Set sql.dsn for sql backends or document.bucket for document backends",
	},
	"SM120": {
		Category: CategoryConfig,
		Message:  "Application watch file was not found",
	},
	"SM121": {
		Category: CategoryConfig,
		Message:  "Invalid log level (debug, info, warn, error)",
	},

	// Backend (SM200-SM299)
	"SM201": {
		Category: CategoryBackend,
		Message:  "Database is unreachable",
	},
	"SM202": {
		Category: CategoryBackend,
		Message:  "Cache storage structure verification failed",
	},
	"SM203": {
		Category: CategoryBackend,
		Message:  "Cache could not be loaded",
	},
	"SM204": {
		Category: CategoryBackend,
		Message:  "Log storage structure verification failed",
	},

	// Transport (SM300-SM399)
	"SM301": {
		Category:   CategoryTransport,
		Message:    "Web server could not listen",
		Suggestion: "Check that the port is free and allowed for this user",
	},
	"SM302": {
		Category: CategoryTransport,
		Message:  "Web server stopped unexpectedly",
	},

	// Application (SM400-SM499)
	"SM401": {
		Category: CategoryApplication,
		Message:  "Application start failed",
	},
	"SM402": {
		Category: CategoryApplication,
		Message:  "Application start panicked",
	},
}

// Lookup returns the template registered for code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
