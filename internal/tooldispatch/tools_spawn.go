package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentkernel/kernel/pkg/models"
)

type spawnAgentArgs struct {
	AgentID string `json:"agent_id"`
	Input   string `json:"input"`
}

// spawnAgentTool creates a child Activation. Depth/fanout limits and
// novelty dedup are the Spawner's responsibility (the scheduler owns the
// ready queue and knows every sibling's spawn history); this tool only
// translates the call into a Spawn request and reports what happened.
type spawnAgentTool struct{ spawner Spawner }

func (t *spawnAgentTool) Name() string { return "spawn_agent" }

func (t *spawnAgentTool) Execute(ctx context.Context, in CallInput) (Result, error) {
	if t.spawner == nil {
		return Result{Content: "spawn_agent unavailable", IsError: true}, nil
	}
	var args spawnAgentArgs
	if err := json.Unmarshal(in.Args, &args); err != nil {
		return Result{}, fmt.Errorf("spawn_agent: invalid args: %w", err)
	}
	if args.AgentID == "" || args.Input == "" {
		return Result{Content: "spawn_agent requires agent_id and input", IsError: true}, nil
	}

	parent := models.Activation{
		ActivationID: in.ActivationID,
		AgentID:      in.AgentID,
	}
	child, deduped, err := t.spawner.Spawn(ctx, parent, args.AgentID, args.Input)
	if err != nil {
		return Result{}, err
	}
	if deduped {
		return Result{
			Content: fmt.Sprintf("spawn deduplicated against an identical in-flight request for agent %s", args.AgentID),
			Spawn:   &models.SpawnData{ChildActivationID: child.ActivationID, ChildAgentID: child.AgentID, Deduplicated: true},
		}, nil
	}
	return Result{
		Content: fmt.Sprintf("spawned activation %s (agent %s, depth %d)", child.ActivationID, child.AgentID, child.SpawnDepth),
		Spawn:   &models.SpawnData{ChildActivationID: child.ActivationID, ChildAgentID: child.AgentID},
	}, nil
}

type signalParentArgs struct {
	Content string `json:"content,omitempty"`
}

// signalParentTool re-enqueues the calling activation's parent at a
// bumped priority; per spec it only enqueues, it never preempts a parent
// that is currently running.
type signalParentTool struct{ signaler Signaler }

func (t *signalParentTool) Name() string { return "signal_parent" }

func (t *signalParentTool) Execute(ctx context.Context, in CallInput) (Result, error) {
	if t.signaler == nil {
		return Result{Content: "signal_parent unavailable", IsError: true}, nil
	}
	var args signalParentArgs
	if err := json.Unmarshal(in.Args, &args); err != nil {
		return Result{}, fmt.Errorf("signal_parent: invalid args: %w", err)
	}
	if in.ParentActivationID == "" {
		return Result{Content: "signal_parent: no parent to signal", IsError: true}, nil
	}
	if err := t.signaler.Signal(ctx, in.ParentActivationID, args.Content); err != nil {
		return Result{}, err
	}
	return Result{
		Content: "parent signaled",
		Signal:  &models.SignalData{TargetActivationID: in.ParentActivationID, Content: args.Content},
	}, nil
}
