package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, Success},
		{"rate limited", FromStatus("GET /", 429), Retryable},
		{"bad gateway", FromStatus("GET /", 502), Retryable},
		{"not found", FromStatus("GET /", 404), Permanent},
		{"forbidden", FromStatus("GET /", 403), Permanent},
		{"teapot", FromStatus("GET /", 418), Permanent},
		{"parse", ParseError("GET /", "link list"), Permanent},
		{"unexpected", UnexpectedResponse("POST /check", "missing postIds"), Permanent},
		{"network", Wrap(ErrorTypeNetwork, "GET /", io.ErrUnexpectedEOF), Retryable},
		{"untyped", io.ErrUnexpectedEOF, Retryable},
		{"cancelled", context.Canceled, Permanent},
		{"wrapped cancel", fmt.Errorf("fetch: %w", context.DeadlineExceeded), Permanent},
		{"wrapped typed", fmt.Errorf("fetch: %w", FromStatus("GET /", 503)), Retryable},
		{"client timeout", Wrap(ErrorTypeNetwork, "GET /", fmt.Errorf("Client.Timeout exceeded: %w", context.DeadlineExceeded)), Retryable},
		{"wrapped client timeout", fmt.Errorf("listing: %w", Wrap(ErrorTypeNetwork, "GET /", context.DeadlineExceeded)), Retryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestFromStatus(t *testing.T) {
	assert.Nil(t, FromStatus("GET /", 200))
	assert.Nil(t, FromStatus("GET /", 204))
	assert.Equal(t, ErrorTypeServerError, FromStatus("GET /", 500).Type)
	assert.Equal(t, ErrorTypeServerError, FromStatus("GET /", 504).Type)
	assert.Equal(t, ErrorTypeUnknown, FromStatus("GET /", 501).Type)
	assert.Equal(t, ErrorTypeAuth, FromStatus("GET /", 401).Type)
}

func TestErrorIsMatchesType(t *testing.T) {
	err := fmt.Errorf("sync aborted: %w", UploadRejected(7, 500))

	assert.True(t, errors.Is(err, &Error{Type: ErrorTypeUploadRejected}))
	assert.False(t, errors.Is(err, &Error{Type: ErrorTypeParsing}))
	assert.Equal(t, ErrorTypeUploadRejected, TypeOf(err))
	assert.Contains(t, err.Error(), "upload post #7")
}

func TestRetriesExhaustedUnwraps(t *testing.T) {
	last := FromStatus("GET /page", 503)
	err := RetriesExhausted("GET /page", 5, last)

	assert.ErrorIs(t, err, &Error{Type: ErrorTypeServerError})
	assert.Contains(t, err.Error(), "exceeded 5 attempts")
	assert.Contains(t, err.Error(), "GET /page")
}
