package providers

import (
	"context"
	"errors"
	"strings"

	"labrag/internal/util"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ErrorPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"), strings.Contains(e, "502"), strings.Contains(e, "503"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// Retryable reports whether another provider may succeed where this one failed.
func Retryable(t ErrorType) bool {
	return t == ErrorQuota || t == ErrorRate || t == ErrorTransient
}

// Sentinel maps a classification onto the util sentinel of the same name.
func Sentinel(t ErrorType) error {
	switch t {
	case ErrorQuota:
		return util.ErrQuotaExhausted
	case ErrorRate:
		return util.ErrRateLimited
	case ErrorTransient:
		return util.ErrTransient
	case ErrorContext:
		return util.ErrContextTooLong
	default:
		return util.ErrPermanent
	}
}
