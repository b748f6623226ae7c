// internal/pkg/httpx/respond.go
package httpx

import (
	"encoding/json"
	"net/http"

	"flashmart/internal/errs"
)

// WriteJSON 写出 JSON 响应。
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError 按错误大类映射 HTTP 状态码，响应体携带稳定的业务错误码。
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindConflict:
		status = http.StatusConflict
	case errs.KindLockTimeout:
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, map[string]string{
		"code":    string(errs.CodeOf(err)),
		"message": err.Error(),
	})
}
