// Package errors 提供统一错误辅助与 API 错误码，不依赖 internal
package errors

import (
	"errors"
	"fmt"
)

// 常用哨兵错误（可按需扩展错误码）
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")
	// ErrInvalidState 状态机不允许该转移（如 cancel 一个 running 的 Job）
	ErrInvalidState = errors.New("invalid state transition")
	// ErrDuplicate 唯一约束冲突
	ErrDuplicate = errors.New("duplicate")
)

// API 错误码（响应体 {"error": msg, "code": code}）
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidState = "INVALID_STATE"
	CodeMissingFile  = "MISSING_FILE"
	CodeFileTooLarge = "FILE_TOO_LARGE"
	CodeNotFound     = "NOT_FOUND"
	CodeDuplicate    = "DUPLICATE"
	CodeInternal     = "INTERNAL_ERROR"
	CodeUpload       = "UPLOAD_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeRateLimited  = "RATE_LIMITED"
)

// APIError 带 HTTP 状态与错误码的错误，由 API 层直接序列化
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Validation 构造 400 VALIDATION_ERROR
func Validation(format string, args ...interface{}) *APIError {
	return &APIError{Status: 400, Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// InvalidState 构造 400 INVALID_STATE
func InvalidState(format string, args ...interface{}) *APIError {
	return &APIError{Status: 400, Code: CodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// NotFoundErr 构造 404 NOT_FOUND（资源不存在或无权访问，二者不可区分）
func NotFoundErr(resource string) *APIError {
	return &APIError{Status: 404, Code: CodeNotFound, Message: resource + " not found"}
}

// Duplicate 构造 409 DUPLICATE
func Duplicate(format string, args ...interface{}) *APIError {
	return &APIError{Status: 409, Code: CodeDuplicate, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized 构造 401 UNAUTHORIZED（缺失/非法/吊销的凭证，对外不区分）
func Unauthorized(msg string) *APIError {
	return &APIError{Status: 401, Code: CodeUnauthorized, Message: msg}
}

// Forbidden 构造 403 FORBIDDEN（凭证有效但缺少 scope）
func Forbidden(msg string) *APIError {
	return &APIError{Status: 403, Code: CodeForbidden, Message: msg}
}

// RateLimited 构造 429 RATE_LIMITED
func RateLimited(msg string) *APIError {
	return &APIError{Status: 429, Code: CodeRateLimited, Message: msg}
}

// MissingFile 构造 400 MISSING_FILE
func MissingFile(msg string) *APIError {
	return &APIError{Status: 400, Code: CodeMissingFile, Message: msg}
}

// FileTooLarge 构造 400 FILE_TOO_LARGE
func FileTooLarge(msg string) *APIError {
	return &APIError{Status: 400, Code: CodeFileTooLarge, Message: msg}
}

// Internal 构造 500 INTERNAL_ERROR
func Internal(msg string) *APIError {
	return &APIError{Status: 500, Code: CodeInternal, Message: msg}
}

// Upload 构造 500 UPLOAD_ERROR（对象存储拒绝）
func Upload(msg string) *APIError {
	return &APIError{Status: 500, Code: CodeUpload, Message: msg}
}

// AsAPIError 提取 APIError；普通错误归为 500 INTERNAL_ERROR
func AsAPIError(err error) *APIError {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return NotFoundErr("resource")
	case errors.Is(err, ErrInvalidState):
		return InvalidState("%s", err.Error())
	case errors.Is(err, ErrDuplicate):
		return Duplicate("%s", err.Error())
	}
	return Internal(err.Error())
}

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
