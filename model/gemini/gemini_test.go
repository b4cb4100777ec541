package gemini

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/model"
)

var _ model.Model = (*Model)(nil)

func newTestModel(t *testing.T, status int, body string) *Model {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      "test",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL + "/"},
	})
	require.NoError(t, err)

	return NewModelFromClient(client, func(o *Options) { o.Model = "gemini-test" })
}

func TestModel_Generate(t *testing.T) {
	m := newTestModel(t, http.StatusOK, `{
		"candidates":[{"content":{"role":"model","parts":[{"text":"{\"verdict\":\"review\"}"}]},"finishReason":"STOP"}],
		"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6},
		"responseId":"r-1"
	}`)

	resp, err := m.Generate(context.Background(), model.Request{
		Instructions: "You are an expense analyst.",
		Messages:     []model.Message{{Role: model.RoleUser, Text: "assess"}},
		JSON:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"verdict":"review"}`, resp.Text)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
	assert.Equal(t, model.Info{Name: "gemini-test", Provider: "gemini"}, m.Info())
}

func TestModel_GenerateClassifiesErrors(t *testing.T) {
	m := newTestModel(t, http.StatusServiceUnavailable, `{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`)

	_, err := m.Generate(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Text: "x"}}})
	assert.ErrorIs(t, err, core.ErrTransient)

	m = newTestModel(t, http.StatusBadRequest, `{"error":{"code":400,"message":"bad","status":"INVALID_ARGUMENT"}}`)

	_, err = m.Generate(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Text: "x"}}})
	assert.ErrorIs(t, err, core.ErrPermanent)
}

func TestNewModel_RequiresKey(t *testing.T) {
	_, err := NewModel(context.Background())
	assert.Error(t, err)
}
