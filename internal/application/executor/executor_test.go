package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

type mockConnector struct {
	ExecuteFunc func(ctx context.Context, action *entity.ProposedAction, task *entity.Task) (entity.ExecutionResult, error)
	calls       int
}

func (m *mockConnector) Execute(ctx context.Context, action *entity.ProposedAction, task *entity.Task) (entity.ExecutionResult, error) {
	m.calls++
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, action, task)
	}
	return entity.ExecutionResult{Success: true, Detail: "ok"}, nil
}

func action(t entity.ActionType) *entity.ProposedAction {
	return &entity.ProposedAction{ID: "act_1", Type: t, Confidence: 0.9, Details: map[string]any{}}
}

func TestExecute_LongestPrefixWins(t *testing.T) {
	e := New(time.Second, zap.NewNop())
	email := &mockConnector{}
	reply := &mockConnector{}
	e.Register("email_", "email", email)
	e.Register("email_reply", "reply", reply)

	res := e.Execute(context.Background(), action(entity.ActionEmailReply), &entity.Task{ID: "t"})
	assert.True(t, res.Success)
	assert.Equal(t, 1, reply.calls)
	assert.Equal(t, 0, email.calls)

	res = e.Execute(context.Background(), action(entity.ActionEmailSend), &entity.Task{ID: "t"})
	assert.True(t, res.Success)
	assert.Equal(t, 1, email.calls)

	assert.Equal(t, []string{"email_reply", "email_"}, e.Prefixes())
}

func TestExecute_FailureModesBecomeResults(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(ctx context.Context, a *entity.ProposedAction, task *entity.Task) (entity.ExecutionResult, error)
		wantErr string
	}{
		{
			name: "connector error",
			fn: func(context.Context, *entity.ProposedAction, *entity.Task) (entity.ExecutionResult, error) {
				return entity.ExecutionResult{}, errors.New("smtp 550")
			},
			wantErr: "smtp 550",
		},
		{
			name: "panic",
			fn: func(context.Context, *entity.ProposedAction, *entity.Task) (entity.ExecutionResult, error) {
				panic("nil map")
			},
			wantErr: "panicked",
		},
		{
			name: "ignores context",
			fn: func(context.Context, *entity.ProposedAction, *entity.Task) (entity.ExecutionResult, error) {
				time.Sleep(200 * time.Millisecond)
				return entity.ExecutionResult{Success: true}, nil
			},
			wantErr: "timed out",
		},
		{
			name: "unsuccessful without message",
			fn: func(context.Context, *entity.ProposedAction, *entity.Task) (entity.ExecutionResult, error) {
				return entity.ExecutionResult{Success: false}, nil
			},
			wantErr: "connector reported failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(20*time.Millisecond, zap.NewNop())
			e.Register("file_", "file", &mockConnector{ExecuteFunc: tt.fn})

			res := e.Execute(context.Background(), action(entity.ActionFileOperation), &entity.Task{ID: "t"})
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.wantErr)
		})
	}
}

func TestExecute_NoConnector(t *testing.T) {
	e := New(0, zap.NewNop())
	res := e.Execute(context.Background(), action(entity.ActionPayment), &entity.Task{ID: "t"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no connector for payment")

	res = e.Execute(context.Background(), nil, &entity.Task{ID: "t"})
	assert.False(t, res.Success)
}

func TestRegister_ReplacesSamePrefix(t *testing.T) {
	e := New(time.Second, zap.NewNop())
	first := &mockConnector{}
	second := &mockConnector{}
	e.Register("lark_", "lark", first)
	e.Register("lark_", "lark", second)

	e.Execute(context.Background(), action(entity.ActionLarkMessage), &entity.Task{ID: "t"})
	assert.Equal(t, 0, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Len(t, e.Prefixes(), 1)
}
