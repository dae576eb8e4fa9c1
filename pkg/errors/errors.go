// Package errors 提供應用程式錯誤處理
//
// 錯誤分類（對應房間同步的錯誤模型）：
//   - INVALID_INPUT：協議錯誤（缺少 client_id、無法解析的訊息）
//   - UNAVAILABLE：持久化儲存失敗（事件未被確認，可整體重試）
//   - ROOM_CLOSED：房間 Actor 已停止（由 Dispatcher 重新建立即可）
//   - NOT_FOUND：路由錯誤（房間名稱缺失）
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeTimeout 超時錯誤
	ErrCodeTimeout = "TIMEOUT"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
	// ErrCodeRoomClosed 房間已關閉
	ErrCodeRoomClosed = "ROOM_CLOSED"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 添加詳細資訊
//
// 回傳副本，避免修改預定義錯誤（多個 goroutine 共用）。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrMissingClientID 升級請求缺少 client_id
	ErrMissingClientID = New(ErrCodeInvalidInput, "client_id is required")

	// ErrInvalidState 訊息無法解析為房間狀態
	ErrInvalidState = New(ErrCodeInvalidInput, "payload is not a valid room state")

	// ErrRoomNotFound 房間名稱缺失
	ErrRoomNotFound = New(ErrCodeNotFound, "room not found")

	// ErrRoomClosed 房間 Actor 已停止
	ErrRoomClosed = New(ErrCodeRoomClosed, "room actor is stopped")

	// ErrStorageUnavailable 持久化儲存不可用
	ErrStorageUnavailable = New(ErrCodeUnavailable, "durable store unavailable")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsInvalidInput 檢查是否為協議錯誤
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeInvalidInput)
}

// IsUnavailable 檢查是否為儲存不可用錯誤
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

// IsRoomClosed 檢查房間是否已關閉
func IsRoomClosed(err error) bool {
	return hasCode(err, ErrCodeRoomClosed)
}

// IsTimeout 檢查是否為超時錯誤
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// HTTPStatus 將錯誤映射為 HTTP 狀態碼
func HTTPStatus(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}

	switch appErr.Code {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeUnavailable, ErrCodeRoomClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// From 取出 AppError；非 AppError 時包裝為內部錯誤
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, ErrCodeInternal, "internal error")
}
