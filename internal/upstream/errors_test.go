package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"mago-voice-backend/internal/upstream"
)

func TestKind(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{}

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), upstream.ErrTimeout},
		{"openai unauthorized", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, upstream.ErrAuth},
		{"openai request 500", &openai.RequestError{HTTPStatusCode: 500, Err: errors.New("boom")}, upstream.ErrUnavailable},
		{"api forbidden", &upstream.APIError{Provider: "news", StatusCode: http.StatusForbidden}, upstream.ErrAuth},
		{"api gateway timeout", &upstream.APIError{Provider: "news", StatusCode: http.StatusGatewayTimeout}, upstream.ErrTimeout},
		{"json", syntaxErr, upstream.ErrMalformed},
		{"other", errors.New("connection refused"), upstream.ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, upstream.Kind(tc.err))
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, upstream.Classify("chat", nil))
	})

	t.Run("wraps kind and cause", func(t *testing.T) {
		cause := &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}
		err := upstream.Classify("chat", cause)
		assert.ErrorIs(t, err, upstream.ErrAuth)
		var apiErr *openai.APIError
		assert.ErrorAs(t, err, &apiErr)
		assert.Contains(t, err.Error(), "chat")
	})

	t.Run("does not double wrap", func(t *testing.T) {
		err := upstream.Classify("chat", context.DeadlineExceeded)
		assert.Same(t, err, upstream.Classify("tts", err))
		assert.True(t, upstream.IsTimeout(err))
	})

	t.Run("malformed helper", func(t *testing.T) {
		err := upstream.Malformed("weather", "missing %s", "main")
		assert.ErrorIs(t, err, upstream.ErrMalformed)
		assert.False(t, upstream.IsAuth(err))
	})
}
