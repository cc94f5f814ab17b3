package kiseki

import (
	"io"
	"log/slog"
	"net/http"
)

// Option configures an SDK.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger     *slog.Logger
	version    string
	baseURL    string
	apiKey     string
	agentID    string
	identifier string
	schemaName string
	stdio      bool
	writer     io.Writer
	httpClient *http.Client
	exporter   Exporter
}

// WithLogger sets the structured logger for the SDK.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and self-telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithBaseURL overrides the collector base URL from config (KISEKI_BASE_URL
// env var).
func WithBaseURL(url string) Option {
	return func(o *resolvedOptions) { o.baseURL = url }
}

// WithAPIKey overrides the API key from config (KISEKI_API_KEY env var).
func WithAPIKey(key string) Option {
	return func(o *resolvedOptions) { o.apiKey = key }
}

// WithAgentID overrides the agent id from config (KISEKI_AGENT_ID env var).
func WithAgentID(id string) Option {
	return func(o *resolvedOptions) { o.agentID = id }
}

// WithAgentIdentifier overrides the agent version identifier from config
// (KISEKI_AGENT_IDENTIFIER env var). Registering a changed schema requires a
// fresh identifier before the next instance start.
func WithAgentIdentifier(identifier string) Option {
	return func(o *resolvedOptions) { o.identifier = identifier }
}

// WithSchemaName overrides the span schema name from config
// (KISEKI_SCHEMA_NAME env var).
func WithSchemaName(name string) Option {
	return func(o *resolvedOptions) { o.schemaName = name }
}

// WithStdioTransport selects the stdout transport regardless of
// KISEKI_TRANSPORT: every action becomes one marker-prefixed JSON line, no
// network credentials required.
func WithStdioTransport() Option {
	return func(o *resolvedOptions) { o.stdio = true }
}

// WithWriter redirects the stdio transport's output. Implies
// WithStdioTransport. Useful for tests and for piping trace lines to a file.
func WithWriter(w io.Writer) Option {
	return func(o *resolvedOptions) {
		o.stdio = true
		o.writer = w
	}
}

// WithHTTPClient replaces the HTTP client used for collector and auth
// requests. The client's own timeout is ignored — per-request timeouts come
// from KISEKI_REQUEST_TIMEOUT.
func WithHTTPClient(client *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = client }
}

// WithExporter replaces the transport entirely with a caller-supplied
// Exporter. Only the last call wins. Config credentials are not required when
// an exporter is set.
func WithExporter(e Exporter) Option {
	return func(o *resolvedOptions) { o.exporter = e }
}
