package pipeline

import "fmt"

// StatusError reports a non-success HTTP response. The status code lets the
// retry policy separate transient server trouble from permanent rejections.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Code)
}

// Transient reports whether the status is worth another attempt.
func (e *StatusError) Transient() bool {
	return e.Code == 429 || e.Code >= 500
}
