package errors

import (
	"net/http"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes shared by every layer.
const (
	ErrCodeUnknown            ErrorCode = "COMMON_000"
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_003"
	ErrCodeConflict           ErrorCode = "COMMON_004"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_005"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_006"
	ErrCodeTimeout            ErrorCode = "COMMON_007"
	ErrCodeValidation         ErrorCode = "COMMON_008"
	ErrCodeSerialization      ErrorCode = "COMMON_009"
	ErrCodeDatabaseError      ErrorCode = "COMMON_010"
	ErrCodeCacheError         ErrorCode = "COMMON_011"
	ErrCodeExternalService    ErrorCode = "COMMON_012"
)

// Job / pipeline error codes.
const (
	ErrCodeJobNotFound          ErrorCode = "JOB_001"
	ErrCodeJobInvalidType       ErrorCode = "JOB_002"
	ErrCodeJobEmptySelection    ErrorCode = "JOB_003"
	ErrCodeJobInvalidTransition ErrorCode = "JOB_004"
	ErrCodeJobNotCancellable    ErrorCode = "JOB_005"
	ErrCodeBatchPublishFailed   ErrorCode = "JOB_006"
	ErrCodeGeneratorFailed      ErrorCode = "JOB_007"
)

// Cache error codes.
const (
	ErrCodeCacheMiss        ErrorCode = "CACHE_001"
	ErrCodeCacheCorrupt     ErrorCode = "CACHE_002"
	ErrCodeCacheInvalidTier ErrorCode = "CACHE_003"
	ErrCodeCacheExpiredTTL  ErrorCode = "CACHE_004"
)

// Geographic pool / cluster error codes.
const (
	ErrCodePoolUnknown      ErrorCode = "GEO_001"
	ErrCodeClusterNotFound  ErrorCode = "GEO_002"
	ErrCodeClusterBuildFail ErrorCode = "GEO_003"
)

// Dealership error codes.
const (
	ErrCodeDealershipNotFound ErrorCode = "DLR_001"
	ErrCodeDealershipInvalid  ErrorCode = "DLR_002"
)

// Short aliases used at call sites that read more naturally.
const (
	CodeUnknown      = ErrCodeUnknown
	CodeOK           = ErrorCode("OK")
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeRateLimit    = ErrCodeTooManyRequests
	CodeDBError      = ErrCodeDatabaseError
	CodeCacheError   = ErrCodeCacheError
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes for the API layer.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,

	ErrCodeJobNotFound:          http.StatusNotFound,
	ErrCodeJobInvalidType:       http.StatusBadRequest,
	ErrCodeJobEmptySelection:    http.StatusBadRequest,
	ErrCodeJobInvalidTransition: http.StatusConflict,
	ErrCodeJobNotCancellable:    http.StatusConflict,
	ErrCodeBatchPublishFailed:   http.StatusInternalServerError,
	ErrCodeGeneratorFailed:      http.StatusBadGateway,

	ErrCodeCacheMiss:        http.StatusNotFound,
	ErrCodeCacheCorrupt:     http.StatusInternalServerError,
	ErrCodeCacheInvalidTier: http.StatusBadRequest,
	ErrCodeCacheExpiredTTL:  http.StatusBadRequest,

	ErrCodePoolUnknown:      http.StatusBadRequest,
	ErrCodeClusterNotFound:  http.StatusNotFound,
	ErrCodeClusterBuildFail: http.StatusInternalServerError,

	ErrCodeDealershipNotFound: http.StatusNotFound,
	ErrCodeDealershipInvalid:  http.StatusBadRequest,
}

// HTTPStatus returns the HTTP status for a code, defaulting to 500.
func HTTPStatus(code ErrorCode) int {
	if s, ok := ErrorCodeHTTPStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}
