package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

func fileAction(details map[string]any) *entity.ProposedAction {
	return &entity.ProposedAction{ID: "act_1", Type: entity.ActionFileOperation, Details: details}
}

func TestFileConnector_Operations(t *testing.T) {
	sandbox := NewSandbox(t.TempDir(), zap.NewNop())
	c := NewFileConnector(sandbox, zap.NewNop())
	ctx := context.Background()

	res, err := c.Execute(ctx, fileAction(map[string]any{"operation": "create", "path": "clients/acme.md", "content": "# Acme\n"}), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = c.Execute(ctx, fileAction(map[string]any{"operation": "create", "path": "clients/acme.md", "content": "again"}), nil)
	assert.ErrorContains(t, err, "already exists")

	_, err = c.Execute(ctx, fileAction(map[string]any{"operation": "append", "path": "clients/acme.md", "content": "Paid.\n"}), nil)
	require.NoError(t, err)

	got, err := sandbox.Read(ctx, "clients/acme.md")
	require.NoError(t, err)
	assert.Equal(t, "# Acme\nPaid.\n", string(got))

	_, err = c.Execute(ctx, fileAction(map[string]any{"operation": "move", "path": "clients/acme.md", "to": "archive/acme.md"}), nil)
	require.NoError(t, err)
	assert.True(t, sandbox.Exists(ctx, "archive/acme.md"))

	_, err = c.Execute(ctx, fileAction(map[string]any{"operation": "move", "path": "clients/acme.md", "to": "x.md"}), nil)
	assert.ErrorContains(t, err, "does not exist")

	del := &entity.ProposedAction{ID: "act_2", Type: entity.ActionFileDelete, Details: map[string]any{"path": "archive/acme.md"}}
	_, err = c.Execute(ctx, del, nil)
	require.NoError(t, err)
	assert.False(t, sandbox.Exists(ctx, "archive/acme.md"))
}

func TestFileConnector_Rejects(t *testing.T) {
	c := NewFileConnector(NewSandbox(t.TempDir(), zap.NewNop()), zap.NewNop())
	ctx := context.Background()

	_, err := c.Execute(ctx, fileAction(map[string]any{"operation": "chmod", "path": "a"}), nil)
	assert.ErrorContains(t, err, "unsupported")

	_, err = c.Execute(ctx, fileAction(map[string]any{"operation": "update", "path": "../../etc/hosts", "content": "x"}), nil)
	assert.ErrorIs(t, err, ErrOutsideSandbox)
}
