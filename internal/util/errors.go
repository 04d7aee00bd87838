package util

import "errors"

var (
	ErrConfiguration     = errors.New("invalid configuration")
	ErrParse             = errors.New("source could not be parsed")
	ErrNoExtractableText = errors.New("no extractable text found")
	ErrStorage           = errors.New("storage failure")
	ErrCallFailed        = errors.New("model call failed")
	ErrMalformedAnswer   = errors.New("model answer is malformed")

	ErrQuotaExhausted = errors.New("provider quota exhausted")
	ErrRateLimited    = errors.New("provider rate limited")
	ErrTransient      = errors.New("transient provider error")
	ErrPermanent      = errors.New("permanent provider error")
	ErrContextTooLong = errors.New("context too long")
)
