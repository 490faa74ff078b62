package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/agentrt/internal/errs"
)

func TestCompleteReturnsMessageContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "plan: ..."}}},
		})
	}))
	defer srv.Close()

	c := New("test-key", srv.URL, "")
	var chunks []string
	out, err := c.Complete(context.Background(), "design a plan", func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)
	assert.Equal(t, "plan: ...", out)
	assert.Equal(t, []string{"plan: ..."}, chunks)
}

func TestCompleteFailsWithoutAPIKey(t *testing.T) {
	c := New("", "", "")
	_, err := c.Complete(context.Background(), "x", nil)
	assert.Error(t, err)
}

func TestCompleteClassifiesServerErrorAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New("test-key", srv.URL, "")
	_, err := c.Complete(context.Background(), "x", nil)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
}
