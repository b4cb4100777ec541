package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/model"
)

var _ model.Model = (*Model)(nil)

func newTestModel(t *testing.T, status int, body string) (*Model, *map[string]any) {
	t.Helper()

	captured := map[string]any{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client := anthropic.NewClient(
		option.WithAPIKey("test"),
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)

	return NewModelFromClient(&client), &captured
}

func TestModel_Generate(t *testing.T) {
	m, captured := newTestModel(t, http.StatusOK, `{
		"id":"msg_1","type":"message","role":"assistant","model":"claude",
		"content":[{"type":"text","text":"{\"verdict\":\"pass\"}"}],
		"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}
	}`)

	resp, err := m.Generate(context.Background(), model.Request{
		Instructions: "You are a credit analyst.",
		Messages:     []model.Message{{Role: model.RoleUser, Text: "assess"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"verdict":"pass"}`, resp.Text)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.NotNil(t, (*captured)["system"])
	assert.Equal(t, "anthropic", m.Info().Provider)
}

func TestModel_GenerateClassifiesErrors(t *testing.T) {
	m, _ := newTestModel(t, http.StatusServiceUnavailable, `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`)

	_, err := m.Generate(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Text: "x"}}})
	assert.ErrorIs(t, err, core.ErrTransient)

	m, _ = newTestModel(t, http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)

	_, err = m.Generate(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Text: "x"}}})
	assert.ErrorIs(t, err, core.ErrPermanent)
}
