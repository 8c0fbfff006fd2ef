package port

import (
	"context"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// PolicyDocument is an opaque policy text handed to the oracle.
type PolicyDocument struct {
	Name    string
	Content string
}

// OracleRequest is the full context for one evaluation.
type OracleRequest struct {
	TaskID   string
	TaskText string
	Policies []PolicyDocument
}

// Oracle proposes an action for a task. Errors wrap errs.ErrOracleCall,
// errs.ErrOracleTimeout or errs.ErrOracleParse.
type Oracle interface {
	Propose(ctx context.Context, req OracleRequest) (*entity.ProposedAction, error)
}

// Connector performs actions of one family against the outside world.
type Connector interface {
	Execute(ctx context.Context, action *entity.ProposedAction, task *entity.Task) (entity.ExecutionResult, error)
}

// Notifier delivers short human-facing messages, e.g. approval prompts.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// PolicyProvider loads the policy documents passed to every evaluation.
type PolicyProvider interface {
	Policies(ctx context.Context) ([]PolicyDocument, error)
}
