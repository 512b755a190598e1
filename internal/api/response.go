package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	xerrors "SpendGuard/internal/errors"
	"SpendGuard/internal/policy"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func errorBody(code, message, reason string) map[string]errorPayload {
	return map[string]errorPayload{"error": {Code: code, Message: message, Reason: reason}}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// retryAfterSeconds 是可重试错误建议的退避秒数。
const retryAfterSeconds = "1"

// writeError 将统一错误映射为状态码与错误体，未识别的错误只返回通用信息。
// 可重试的错误附带 Retry-After，提示客户端这是暂时性的背压。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := xerrors.HTTPStatusOf(err)
	code := xerrors.CodeOf(err)
	message := xerrors.AttributesOf(code).Message
	severity := xerrors.AttributesOf(code).Severity
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
		severity = e.Severity()
	}
	switch {
	case status >= http.StatusInternalServerError:
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", string(code)),
			slog.Any("error", err))
	case severity == xerrors.SeverityCritical:
		s.logger.Warn("request rejected",
			slog.String("path", r.URL.Path),
			slog.String("code", string(code)),
			slog.String("reason", string(policy.ReasonOf(err))))
	}
	if xerrors.RetryableError(err) {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, errorBody(string(code), message, string(policy.ReasonOf(err))))
}
