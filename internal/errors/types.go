package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternalServer  ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"

	// 知识库错误
	ErrCodeDocumentUnreadable ErrorCode = "DOCUMENT_UNREADABLE"
	ErrCodeIndexBuildInvalid  ErrorCode = "INDEX_BUILD_INVALID"
	ErrCodeIndexCorrupt       ErrorCode = "INDEX_CORRUPT"
	ErrCodeNotReady           ErrorCode = "KNOWLEDGE_BASE_NOT_READY"

	// 问答错误
	ErrCodeInvalidQuery      ErrorCode = "INVALID_QUERY"
	ErrCodeRetrievalFailure  ErrorCode = "RETRIEVAL_FAILURE"
	ErrCodeGenerationFailure ErrorCode = "GENERATION_FAILURE"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// String 返回错误类型名称
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "system"
	}
}

// 生成失败的细分原因
const (
	KindTimeout     = "timeout"
	KindBackend     = "backend"
	KindCircuitOpen = "circuit_open"
)

// AppError 应用错误结构体
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Type     ErrorType   `json:"type"`
	Kind     string      `json:"kind,omitempty"`
	HTTPCode int         `json:"-"`
	Details  interface{} `json:"details,omitempty"`
	Cause    error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithKind 标记细分原因
func (e *AppError) WithKind(kind string) *AppError {
	e.Kind = kind
	return e
}

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewBusinessError 创建业务错误
func NewBusinessError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeBusiness,
		HTTPCode: getHTTPCodeForError(code),
	}
}

// NewExternalError 创建外部服务错误
func NewExternalError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeExternal,
		HTTPCode: getHTTPCodeForError(code),
	}
}

// NewInvalidInputError 创建输入无效错误
func NewInvalidInputError(field, reason string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("Invalid input for field '%s': %s", field, reason),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// DocumentUnreadable 文档无法读取
func DocumentUnreadable(path string, cause error) *AppError {
	return NewBusinessError(ErrCodeDocumentUnreadable, fmt.Sprintf("document %q is unreadable", path)).WithCause(cause)
}

// IndexBuildInvalid 索引构建参数无效
func IndexBuildInvalid(reason string) *AppError {
	return NewBusinessError(ErrCodeIndexBuildInvalid, "invalid index build: "+reason)
}

// IndexCorrupt 持久化索引损坏或不一致
func IndexCorrupt(reason string, cause error) *AppError {
	return NewSystemError(ErrCodeIndexCorrupt, "persisted index is corrupt: "+reason).WithCause(cause)
}

// NotReady 知识库尚未初始化
func NotReady() *AppError {
	err := NewSystemError(ErrCodeNotReady, "knowledge base is not ready")
	err.HTTPCode = http.StatusServiceUnavailable
	return err
}

// InvalidQuery 问题过短
func InvalidQuery() *AppError {
	return &AppError{
		Code:     ErrCodeInvalidQuery,
		Message:  "query too short",
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// RetrievalFailure 检索失败
func RetrievalFailure(cause error) *AppError {
	return NewExternalError(ErrCodeRetrievalFailure, "retrieval failed").WithCause(cause)
}

// GenerationFailure 生成失败
func GenerationFailure(kind string, cause error) *AppError {
	return NewExternalError(ErrCodeGenerationFailure, "generation failed").WithKind(kind).WithCause(cause)
}

// getHTTPCodeForError 根据错误码获取HTTP状态码
func getHTTPCodeForError(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound, ErrCodeDocumentUnreadable:
		return http.StatusNotFound
	case ErrCodeInvalidInput, ErrCodeInvalidQuery, ErrCodeIndexBuildInvalid:
		return http.StatusBadRequest
	case ErrCodeRetrievalFailure, ErrCodeGenerationFailure:
		return http.StatusBadGateway
	case ErrCodeNotReady:
		return http.StatusServiceUnavailable
	case ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsAppError 检查错误链中是否有AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// Is 检查错误链中是否有指定错误码
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}
