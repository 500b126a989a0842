package api

import (
	"net/http"
	"strings"

	"github.com/ignite/leadgen-site/internal/config"
	"github.com/ignite/leadgen-site/internal/pkg/httputil"
	"github.com/ignite/leadgen-site/internal/pkg/logger"
)

// respondSafeError logs the internal error and writes a public-safe JSON
// body. Outside production the raw error is attached as details.detail.
func respondSafeError(w http.ResponseWriter, cfg *config.Config, code int, internalErr error) {
	logger.Error("request failed", "status", code, "error", internalErr)

	msg := safeErrorMessage(code, internalErr)
	if cfg == nil || cfg.Server.IsProduction() || internalErr == nil {
		httputil.Error(w, code, msg)
		return
	}
	httputil.ErrorWithCode(w, code, msg, "internal_error", map[string]string{"detail": internalErr.Error()})
}

// safeErrorMessage maps common internal error patterns to public-safe
// messages. 4xx errors are caller input and pass through.
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return internalErr.Error()
		}
		return "Bad request"
	}

	if internalErr == nil {
		return "An internal error occurred"
	}

	errStr := strings.ToLower(internalErr.Error())

	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "Service temporarily unavailable"

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"

	case strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "dynamodb") ||
		strings.Contains(errStr, "transaction") ||
		strings.Contains(errStr, "database"):
		return "A database error occurred"

	case strings.Contains(errStr, "permission") ||
		strings.Contains(errStr, "access denied"):
		return "Access denied"

	default:
		return "An internal error occurred"
	}
}
