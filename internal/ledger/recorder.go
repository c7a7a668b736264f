package ledger

import (
	"context"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
)

// Recorder appends the kit's side effects to the ledger. It satisfies the
// kit's Auditor interface.
type Recorder struct {
	store *Store
	actor string
}

// NewRecorder creates a recorder writing on behalf of actor
func NewRecorder(store *Store, actor string) *Recorder {
	if actor == "" {
		actor = ActorKit
	}
	return &Recorder{store: store, actor: actor}
}

// AgentCreated records the creation of an agent
func (r *Recorder) AgentCreated(ctx context.Context, agentKey, clientID, target string) error {
	_, err := r.store.Append(ctx, ActionAgentCreated, r.actor, EntityAgent, agentKey, map[string]interface{}{
		"client_id": clientID,
		"target":    target,
	})
	return err
}

// AgentUpdated records the upload of operations to an agent
func (r *Recorder) AgentUpdated(ctx context.Context, agentKey string, operations int) error {
	_, err := r.store.Append(ctx, ActionAgentUpdated, r.actor, EntityAgent, agentKey, map[string]interface{}{
		"operations": operations,
	})
	return err
}

// AgentsDestroyed records a bulk deletion
func (r *Recorder) AgentsDestroyed(ctx context.Context, count int) error {
	_, err := r.store.Append(ctx, ActionAgentsDestroyed, r.actor, EntityProject, "", map[string]interface{}{
		"count": count,
	})
	return err
}

// RequestExecuted records a request and how many clients each query matched
func (r *Recorder) RequestExecuted(ctx context.Context, run *core.RequestRun) error {
	matched := make(map[string]int, len(run.Results))
	for _, q := range run.Results {
		matched[q.Name] = len(q.Results)
	}
	_, err := r.store.Append(ctx, ActionRequestExecuted, r.actor, EntityRequest, run.ID, map[string]interface{}{
		"params":  run.Params,
		"matched": matched,
	})
	return err
}

// OrdersImported records an order import
func (r *Recorder) OrdersImported(ctx context.Context, source string, count int) error {
	_, err := r.store.Append(ctx, ActionOrdersImported, r.actor, EntityOrders, source, map[string]interface{}{
		"count": count,
	})
	return err
}
