package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/domain/errs"
)

// chatServer answers every chat completion with content and records the last request body.
func chatServer(t *testing.T, status int, content string, lastBody *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if lastBody != nil {
			_ = json.Unmarshal(body, lastBody)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOracle(srv *httptest.Server) *Oracle {
	return NewOracle(Config{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"}, zap.NewNop())
}

var request = port.OracleRequest{
	TaskID:   "task_1",
	TaskText: "client asks for invoice",
	Policies: []port.PolicyDocument{{Name: "Company_Handbook.md", Content: "Reply to clients within a day."}},
}

func TestPropose_ParsesAction(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, http.StatusOK,
		`{"action_type":"email_reply","confidence":0.91,"requires_approval":false,"reasoning":"known client","details":{"body":"Attached."}}`,
		&body)

	action, err := newTestOracle(srv).Propose(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionEmailReply, action.Type)
	assert.InDelta(t, 0.91, action.Confidence, 1e-9)
	assert.Equal(t, "Attached.", action.DetailString("body"))

	assert.Equal(t, "gpt-4o-mini", body["model"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	user := messages[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, "## Policy: Company_Handbook.md")
	assert.Contains(t, user, "Reply to clients within a day.")
	assert.Contains(t, user, "client asks for invoice")
}

func TestPropose_ExtractsFencedJSON(t *testing.T) {
	srv := chatServer(t, http.StatusOK,
		"Here you go:\n```json\n{\"action_type\":\"lark_message\",\"confidence\":0.7,\"requires_approval\":true,\"reasoning\":\"a {brace} in text\",\"details\":{}}\n```",
		nil)

	action, err := newTestOracle(srv).Propose(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionLarkMessage, action.Type)
	assert.True(t, action.RequiresApproval)
}

func TestPropose_ErrorMapping(t *testing.T) {
	t.Run("missing field is a parse error", func(t *testing.T) {
		srv := chatServer(t, http.StatusOK, `{"action_type":"email_reply","confidence":0.9}`, nil)
		_, err := newTestOracle(srv).Propose(context.Background(), request)
		assert.True(t, errors.Is(err, errs.ErrOracleParse), err)
	})

	t.Run("server error is a call error", func(t *testing.T) {
		srv := chatServer(t, http.StatusInternalServerError, "", nil)
		_, err := newTestOracle(srv).Propose(context.Background(), request)
		assert.True(t, errors.Is(err, errs.ErrOracleCall), err)
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer slow.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := newTestOracle(slow).Propose(ctx, request)
		assert.True(t, errors.Is(err, errs.ErrOracleTimeout), err)
	})
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"text {\"a\":{\"b\":\"}\"}} tail", `{"a":{"b":"}"}}`},
		{`{"a":"\"{"}`, `{"a":"\"{"}`},
		{"no json", ""},
		{`{"unterminated":`, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractJSON(tt.in), tt.in)
	}
}

func TestLoadPrompts_KeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proposal:\n  temperature: 0.5\n"), 0o644))

	p, err := LoadPrompts(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p.Proposal.Temperature, 1e-6)
	assert.Equal(t, defaultUserTemplate, p.Proposal.UserTemplate)

	require.NoError(t, os.WriteFile(path, []byte("proposal:\n  user_template: \"{{.Broken\"\n"), 0o644))
	_, err = LoadPrompts(path)
	assert.Error(t, err)
}
