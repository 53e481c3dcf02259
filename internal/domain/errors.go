package domain

import "errors"

var (
	ErrUnsupportedModel   = errors.New("unsupported model")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrSubmissionRejected = errors.New("provider rejected submission")
	ErrInvalidTransition  = errors.New("invalid job state transition")
	ErrJobNotFound        = errors.New("job not found")
	ErrMalformedResult    = errors.New("malformed provider result")
	ErrJobTimedOut        = errors.New("job timed out")
)

// ErrorKind returns the stable wire identifier for a taxonomy error, or
// "internal" for anything outside it. InvalidTransition is deliberately
// reported as internal: it signals a programming error, not caller input.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedModel):
		return "unsupported_model"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrSubmissionRejected):
		return "submission_rejected"
	case errors.Is(err, ErrJobNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformedResult):
		return "malformed_result"
	case errors.Is(err, ErrJobTimedOut):
		return "timed_out"
	default:
		return "internal"
	}
}
