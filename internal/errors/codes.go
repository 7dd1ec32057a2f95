// Package errors provides structured error handling for amansearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and IO errors
//   - 3XX: Network and provider errors
//   - 4XX: Query and validation errors
//   - 5XX: Internal and search errors
package errors

// Category classifies an error for logging and presentation.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStorage    Category = "STORAGE"
	CategoryProvider   Category = "PROVIDER"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeIndexNotFound = "ERR_201_INDEX_NOT_FOUND"
	ErrCodeIndexLocked   = "ERR_202_INDEX_LOCKED"
	ErrCodeCorruptIndex  = "ERR_205_CORRUPT_INDEX"
	ErrCodeStorageFailed = "ERR_206_STORAGE_FAILED"

	// Network and provider errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeProviderAuth       = "ERR_303_PROVIDER_AUTH"
	ErrCodeBranchUnavailable  = "ERR_304_BRANCH_UNAVAILABLE"
	ErrCodeEmbeddingProvider  = "ERR_305_EMBEDDING_PROVIDER"
	ErrCodeCircuitOpen        = "ERR_306_CIRCUIT_OPEN"

	// Query and validation errors (400-499)
	ErrCodeInvalidInput         = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch    = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryParse           = "ERR_403_QUERY_PARSE"
	ErrCodeQueryEmpty           = "ERR_404_QUERY_EMPTY"
	ErrCodeQueryTooLong         = "ERR_405_QUERY_TOO_LONG"
	ErrCodeInvalidFilter        = "ERR_406_INVALID_FILTER"
	ErrCodeScriptAmbiguous      = "ERR_407_SCRIPT_AMBIGUOUS"
	ErrCodeUnsupportedDimension = "ERR_408_UNSUPPORTED_DIMENSION"
	ErrCodeModelMismatch        = "ERR_409_MODEL_MISMATCH"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeLoadFailed      = "ERR_505_LOAD_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "ERR_304_BRANCH_UNAVAILABLE" -> '3'
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeQueryParse, ErrCodeScriptAmbiguous:
		return SeverityInfo
	case ErrCodeBranchUnavailable:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable,
		ErrCodeEmbeddingProvider, ErrCodeBranchUnavailable:
		return true
	default:
		return false
	}
}
