// Package constants defines system-wide constants for the certguard abuse-prevention engine.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Dimension Constants
// ================================================================================

// Dimension is the axis along which abuse is tracked.
type Dimension string

const (
	// DimensionIP tracks attempts per client IP address
	DimensionIP Dimension = "ip"

	// DimensionEmail tracks attempts per normalized email address
	DimensionEmail Dimension = "email"

	// DimensionTaxID tracks attempts per digits-only tax identifier
	DimensionTaxID Dimension = "tax_id"

	// DimensionGlobal tracks all attempts regardless of who makes them
	DimensionGlobal Dimension = "global"
)

// DimensionPriority is the fixed order in which dimensions are evaluated.
var DimensionPriority = []Dimension{DimensionIP, DimensionEmail, DimensionTaxID, DimensionGlobal}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionIP, DimensionEmail, DimensionTaxID, DimensionGlobal:
		return true
	}
	return false
}

// ParseDimension converts a raw string into a Dimension.
func ParseDimension(s string) (Dimension, bool) {
	d := Dimension(s)
	return d, d.Valid()
}

// ================================================================================
// Window Granularity Constants
// ================================================================================

// Granularity is the size of a fixed counting window.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
	GranularityWeek   Granularity = "week"
	GranularityMonth  Granularity = "month"
	GranularityYear   Granularity = "year"
)

// Granularities lists every granularity from finest to coarsest.
var Granularities = []Granularity{
	GranularityMinute,
	GranularityHour,
	GranularityDay,
	GranularityWeek,
	GranularityMonth,
	GranularityYear,
}

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	return g.Rank() >= 0
}

// Rank orders granularities from finest (0) to coarsest. Unknown values return -1.
func (g Granularity) Rank() int {
	for i, known := range Granularities {
		if g == known {
			return i
		}
	}
	return -1
}

// ParseGranularity converts a raw string into a Granularity.
func ParseGranularity(s string) (Granularity, bool) {
	g := Granularity(s)
	return g, g.Valid()
}

// ================================================================================
// Audit Action Constants
// ================================================================================

// Action is the outcome recorded in the audit log for a decision.
type Action string

const (
	ActionAllowed     Action = "allowed"
	ActionBlocked     Action = "blocked"
	ActionBlacklisted Action = "blacklisted"
	ActionWhitelisted Action = "whitelisted"
)

// Actions lists every audit action.
var Actions = []Action{ActionAllowed, ActionBlocked, ActionBlacklisted, ActionWhitelisted}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionAllowed, ActionBlocked, ActionBlacklisted, ActionWhitelisted:
		return true
	}
	return false
}

// ================================================================================
// Decision Code Constants
// ================================================================================

// DecisionCode is the machine-readable outcome of a policy check.
type DecisionCode string

const (
	// DecisionOK means no rule fired
	DecisionOK DecisionCode = "ok"

	// DecisionWhitelisted means an identifier matched the allow list
	DecisionWhitelisted DecisionCode = "whitelisted"

	// DecisionBlacklisted means an identifier matched the deny list
	DecisionBlacklisted DecisionCode = "blacklisted"

	// DecisionBlocked means an explicit time-boxed block is active
	DecisionBlocked DecisionCode = "blocked"

	// DecisionLimitExceeded means a window counter reached its maximum
	DecisionLimitExceeded DecisionCode = "limit_exceeded"

	// DecisionCooldown means the minimum delay between attempts has not elapsed
	DecisionCooldown DecisionCode = "cooldown"

	// DecisionStoreUnavailable means the counter store failed and the failure policy decided
	DecisionStoreUnavailable DecisionCode = "store_unavailable"
)

// BlockReasonThresholdExceeded is stored on a block created by escalation.
const BlockReasonThresholdExceeded = "threshold_exceeded"

// BlockReasonManual is stored on a block created by an operator.
const BlockReasonManual = "manual"

// ================================================================================
// Allow/Deny List Verdicts
// ================================================================================

// ListVerdict is the result of classifying an identifier against the allow/deny lists.
type ListVerdict int

const (
	ListUnmatched ListVerdict = iota
	ListAllowed
	ListDenied
)

// String returns the verdict name
func (v ListVerdict) String() string {
	switch v {
	case ListAllowed:
		return "allowed"
	case ListDenied:
		return "denied"
	default:
		return "unmatched"
	}
}

// ================================================================================
// Failure Policy Constants
// ================================================================================

// FailurePolicy decides what Check returns when the counter store is unavailable.
type FailurePolicy string

const (
	// FailOpen allows the attempt to preserve availability of the protected action
	FailOpen FailurePolicy = "fail_open"

	// FailClosed denies the attempt to preserve the security guarantee
	FailClosed FailurePolicy = "fail_closed"
)

// Valid reports whether p is a known failure policy.
func (p FailurePolicy) Valid() bool {
	return p == FailOpen || p == FailClosed
}

// ================================================================================
// Storage Backend Constants
// ================================================================================

// StoreBackend selects the counter store implementation.
type StoreBackend string

const (
	StoreBackendSQL   StoreBackend = "sql"
	StoreBackendRedis StoreBackend = "redis"
)

// DatabaseDriver selects the relational database driver.
type DatabaseDriver string

const (
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// ================================================================================
// Default Values
// ================================================================================

const (
	// DefaultStoreTimeout bounds a single counter store round-trip
	DefaultStoreTimeout = 2 * time.Second

	// DefaultFailClosedRetrySeconds is the wait reported when failing closed
	DefaultFailClosedRetrySeconds = 60

	// DefaultAuditBufferSize is the capacity of the asynchronous audit queue
	DefaultAuditBufferSize = 1024

	// DefaultAuditMaxRetries is how many times a sink write is retried
	DefaultAuditMaxRetries = 3

	// DefaultRetentionDays is how long audit entries are kept
	DefaultRetentionDays = 30

	// DefaultMaxLogs caps the audit table size
	DefaultMaxLogs = 100_000

	// DefaultCleanupInterval is how often the maintenance worker runs
	DefaultCleanupInterval = 15 * time.Minute

	// DefaultStatsCacheTTL is how long a computed stats report is reused
	DefaultStatsCacheTTL = 30 * time.Second

	// DefaultTopOffenders is the default size of the top offender list
	DefaultTopOffenders = 10

	// IncrementMaxRetries bounds the retry loop around an atomic increment
	IncrementMaxRetries = 3

	// RedisKeyPrefix prefixes every key written by the Redis counter store
	RedisKeyPrefix = "certguard"
)

// ================================================================================
// Error Code Constants
// ================================================================================

// ErrorCode is a machine-readable error identifier.
type ErrorCode string

const (
	ErrCodeInvalidRequest   ErrorCode = "invalid_request"
	ErrCodeUnauthorized     ErrorCode = "unauthorized"
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodeStoreUnavailable ErrorCode = "store_unavailable"
	ErrCodeInvalidConfig    ErrorCode = "invalid_config"
	ErrCodeServerError      ErrorCode = "server_error"
)

// ================================================================================
// Logging Constants
// ================================================================================

// LogLevel represents the severity level of log messages
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)

// ParseLogLevel maps a level name to a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	case "fatal":
		return LogLevelFatal
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey represents keys used in context.Context
type ContextKey string

const (
	// ContextKeyRequestID carries the per-request correlation id
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID carries an externally supplied trace id
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyAdminSubject carries the authenticated admin subject
	ContextKeyAdminSubject ContextKey = "admin_subject"
)
