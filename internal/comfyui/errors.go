package comfyui

import (
	"errors"
	"fmt"
	"net"
)

// SubmissionError the backend rejected a job or answered /prompt with
// something unusable
type SubmissionError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	msg := "prompt submission failed"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// WatchError the push channel failed or closed before completion was seen
type WatchError struct {
	PromptID string
	Err      error
}

func (e *WatchError) Error() string {
	if e.PromptID == "" {
		return fmt.Sprintf("push channel failed: %v", e.Err)
	}
	return fmt.Sprintf("push channel failed while waiting for %s: %v", e.PromptID, e.Err)
}

func (e *WatchError) Unwrap() error { return e.Err }

// Timeout reports whether the wait deadline expired
func (e *WatchError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// FetchError a history or image download call failed
type FetchError struct {
	PromptID   string
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetching results of %s failed", e.PromptID)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }
