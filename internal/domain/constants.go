package domain

import "time"

// File permissions constants
const (
	// DirectoryPermissions is the default permission for directories (rwxr-xr-x)
	DirectoryPermissions = 0o755
	// SecureFilePermissions is the permission for sensitive files (rw-------)
	SecureFilePermissions = 0o600
	// WrittenFilePermissions is used for files created by the writeFile action (rw-r--r--)
	WrittenFilePermissions = 0o644
)

// Model client constants
const (
	// DefaultMaxTokens is the default maximum number of completion tokens
	DefaultMaxTokens = 1024
	// DefaultMaxRetries is how many times a transient model failure is retried
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the first delay of the exponential retry schedule
	DefaultBaseBackoff = time.Second
	// DefaultRequestTimeout bounds a non-streaming model call
	DefaultRequestTimeout = 60 * time.Second
	// DefaultStreamTimeout bounds a streaming model call
	DefaultStreamTimeout = 120 * time.Second
)

// DefaultRateLimitDelays is the progressive wait schedule used after a rate limit.
var DefaultRateLimitDelays = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}

// Context assembly constants
const (
	// DefaultTokenBudget is the total context budget in estimated tokens
	DefaultTokenBudget = 1500
	// DefaultMaxChunkBytes caps a single context chunk before scoring
	DefaultMaxChunkBytes = 2000
	// DefaultKnowledgeK is how many knowledge-base chunks are requested
	DefaultKnowledgeK = 5
	// DefaultRecentLimit is how many recently changed files are considered
	DefaultRecentLimit = 10
	// DefaultRelevanceCacheTTL is how long the live-file listing is reused
	DefaultRelevanceCacheTTL = 30 * time.Second
	// CharsPerToken is the fixed ratio used by the token estimator
	CharsPerToken = 4
)

// Budget shares of the context window, in percent.
const (
	RelevanceSharePercent = 50
	MentionSharePercent   = 30
	RecentSharePercent    = 20
)

// DefaultContextExtensions lists source extensions searched by the live-file searcher.
var DefaultContextExtensions = []string{".go", ".js", ".jsx", ".ts", ".tsx", ".py", ".json", ".md", ".yaml", ".yml", ".css", ".html"}

// Execution constants
const (
	// DefaultWriteTimeout bounds a writeFile action
	DefaultWriteTimeout = 5 * time.Second
	// DefaultInstallTimeout bounds an installPackage action
	DefaultInstallTimeout = 120 * time.Second
	// DefaultCommandTimeout bounds an executeCommand action
	DefaultCommandTimeout = 30 * time.Second
	// DefaultMaxOutputBytes caps captured stdout and stderr, each
	DefaultMaxOutputBytes = 8 * 1024
	// DefaultPackageManager is used by installPackage
	DefaultPackageManager = "npm"
	// TruncatedMarker is appended to output that hit the cap
	TruncatedMarker = "\n...(truncated)"
)

// Confirmation constants
const (
	// DefaultConfirmationTimeout is how long the gate waits for a decision
	DefaultConfirmationTimeout = 2 * time.Minute
	// DefaultConfirmationTTL is how long a pending confirmation is kept
	DefaultConfirmationTTL = 10 * time.Minute
	// ConfirmationGrace is how long a pending confirmation outlives the wait
	// so the terminal state can still be recorded
	ConfirmationGrace = 30 * time.Second
	// ConfirmationStoreMemory keeps pending confirmations in process
	ConfirmationStoreMemory = "memory"
	// ConfirmationStoreBadger persists pending confirmations in badger
	ConfirmationStoreBadger = "badger"
)

// Audit constants
const (
	// DefaultAuditCapacity is the maximum number of retained audit entries
	DefaultAuditCapacity = 1000
	// DefaultAuditListLimit is the default number of entries shown by the CLI
	DefaultAuditListLimit = 20
	// AuditStoreMemory keeps the audit log in process
	AuditStoreMemory = "memory"
	// AuditStoreSQLite persists the audit log in sqlite
	AuditStoreSQLite = "sqlite"
)

// Time formats
const (
	// TimestampFormat is the standard timestamp format
	TimestampFormat = time.RFC3339
)
