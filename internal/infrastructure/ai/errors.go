package ai

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/doeshing/shai-agent/internal/domain"
)

// statusErrorKind maps an HTTP status to a failure class.
func statusErrorKind(status int) domain.ModelErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ModelErrorAuth
	case status == http.StatusTooManyRequests:
		return domain.ModelErrorRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.ModelErrorTimeout
	case status >= 500:
		return domain.ModelErrorServer
	default:
		return domain.ModelErrorMalformed
	}
}

// transportErrorKind classifies failures that happened before a status
// line was read.
func transportErrorKind(ctx context.Context, err error) domain.ModelErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ModelErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ModelErrorTimeout
	}
	return domain.ModelErrorConnection
}
