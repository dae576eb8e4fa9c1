package transport

import (
	"encoding/json"

	apperrors "github.com/koopa0/roomsync/pkg/errors"
)

// errorFrame 回給送出錯誤訊息的連線
type errorFrame struct {
	Error *apperrors.AppError `json:"error"`
}

// EncodeError 序列化錯誤幀 {"error":{"code":...,"message":...}}
func EncodeError(err *apperrors.AppError) ([]byte, error) {
	return json.Marshal(errorFrame{Error: err})
}

// DecodeError 解析錯誤幀；不是錯誤幀時返回 nil
func DecodeError(data []byte) *apperrors.AppError {
	var f errorFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	return f.Error
}
