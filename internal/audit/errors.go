package audit

import "fmt"

// FetchError reports a failed page fetch: network error, timeout, or a
// non-2xx status after redirect resolution. A fetch failure finalizes
// the whole audit as failed.
type FetchError struct {
	Target     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Target, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Target, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
