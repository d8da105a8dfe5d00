// Package tooldispatch implements the kernel's ToolDispatcher: a fixed set
// of built-in tools (vfs_read/write/list/delete, spawn_agent,
// signal_parent, web_search/web_fetch) plus declarative custom tools from
// an agent profile, all gated through the PolicyGate before they run.
package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/agentkernel/kernel/internal/policygate"
	"github.com/agentkernel/kernel/internal/vfs"
	"github.com/agentkernel/kernel/pkg/models"
)

// Tool is a single dispatchable tool implementation.
type Tool interface {
	Name() string
	Execute(ctx context.Context, in CallInput) (Result, error)
}

// CallInput is what a Tool receives for a single invocation.
type CallInput struct {
	ActivationID       string
	AgentID            string
	ParentActivationID string
	Profile            *models.AgentProfile
	Args               json.RawMessage
}

// Result is what a Tool returns; it becomes the tool_result event's
// payload and, for spawn_agent, also carries side-channel metadata.
type Result struct {
	Content string
	IsError bool

	// Spawn is set by spawn_agent on success, letting the caller append a
	// dedicated `spawn` EventLog entry alongside the `tool_result`.
	Spawn *models.SpawnData

	// Signal is set by signal_parent on success, letting the caller
	// append a dedicated `signal` EventLog entry alongside the
	// `tool_result`.
	Signal *models.SignalData
}

// Spawner creates a child Activation for spawn_agent and returns whether
// the request was deduplicated (a novel request within the parent's
// lifetime against an identical prior request is squashed, per spec).
type Spawner interface {
	Spawn(ctx context.Context, parent models.Activation, agentID, input string) (child models.Activation, deduplicated bool, err error)
}

// Signaler re-enqueues a parent Activation at a bumped priority for
// signal_parent; it never preempts a running parent.
type Signaler interface {
	Signal(ctx context.Context, targetActivationID, content string) error
}

// Dispatcher owns the built-in tool table and routes every call through
// the PolicyGate before executing it, emitting tool_call/tool_result/
// policy_denied events around each dispatch.
type Dispatcher struct {
	vfs      vfs.VFS
	spawner  Spawner
	signaler Signaler
	log      *slog.Logger

	mu          sync.RWMutex
	tools       map[string]Tool
	validators  map[string]*ArgValidator
	customCalls CustomToolInvoker
	webTools    WebToolsConfig
}

// CustomToolInvoker runs a declaratively-defined custom tool (profile
// frontmatter's `tools:` entries) by rendering its prompt template and
// making a sub-call to the provider. Supplied by whatever wires the
// ActivationLoop together, since the Dispatcher itself has no provider
// dependency.
type CustomToolInvoker interface {
	InvokeCustomTool(ctx context.Context, tool models.CustomTool, args json.RawMessage) (string, error)
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithCustomToolInvoker wires a provider-backed invoker for declarative
// custom tools. Without one, custom tool calls fail with a clear error
// rather than silently no-opping.
func WithCustomToolInvoker(invoker CustomToolInvoker) Option {
	return func(d *Dispatcher) { d.customCalls = invoker }
}

// WithWebToolsConfig configures the built-in web_search/web_fetch tools.
// Without it they run with their zero-value defaults (DuckDuckGo
// scraping, a 10000-char cap, a 15s client timeout).
func WithWebToolsConfig(cfg WebToolsConfig) Option {
	return func(d *Dispatcher) { d.webTools = cfg }
}

// New creates a Dispatcher with the fixed built-in tool table registered.
func New(vfsImpl vfs.VFS, spawner Spawner, signaler Signaler, log *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		vfs:      vfsImpl,
		spawner:  spawner,
		signaler: signaler,
		log:      log,
		tools:    make(map[string]Tool),
	}
	for _, opt := range opts {
		opt(d)
	}
	var webClient *http.Client
	if d.webTools.Timeout > 0 {
		webClient = &http.Client{Timeout: d.webTools.Timeout}
	}
	for _, t := range []Tool{
		&vfsReadTool{vfs: vfsImpl},
		&vfsWriteTool{vfs: vfsImpl},
		&vfsListTool{vfs: vfsImpl},
		&vfsDeleteTool{vfs: vfsImpl},
		&spawnAgentTool{spawner: spawner},
		&signalParentTool{signaler: signaler},
		&webSearchTool{
			provider:    d.webTools.SearchProvider,
			url:         d.webTools.SearchURL,
			braveAPIKey: d.webTools.BraveAPIKey,
			maxChars:    d.webTools.FetchMaxChars,
			client:      webClient,
		},
		&webFetchTool{
			maxChars: d.webTools.FetchMaxChars,
			client:   webClient,
		},
	} {
		d.tools[t.Name()] = t
	}
	d.validators = make(map[string]*ArgValidator, len(d.tools))
	for name := range d.tools {
		schema, ok := builtinSchemas[name]
		if !ok {
			continue
		}
		validator, err := NewArgValidator(name, schema)
		if err != nil {
			// builtinSchemas is generated from the tool's own arg struct, so a
			// compile failure here means SchemaFor/NewArgValidator disagree on
			// what they produce/accept, not a bad runtime input.
			panic(fmt.Sprintf("tooldispatch: compile schema for %s: %v", name, err))
		}
		d.validators[name] = validator
	}
	return d
}

// DispatchInput is everything Dispatch needs to gate and run one tool call.
type DispatchInput struct {
	ActivationID       string
	AgentID            string
	ParentActivationID string
	Profile            *models.AgentProfile
	CallID             string
	ToolName           string
	Args               json.RawMessage
}

// Dispatch evaluates in.ToolName against the profile's Policy, and if
// allowed, executes it (built-in or custom). The returned Result is
// always non-nil; policy denial is reported as an IsError Result rather
// than a Go error, so callers can append it as a tool_result event
// uniformly.
func (d *Dispatcher) Dispatch(ctx context.Context, in DispatchInput) (Result, policygate.Decision) {
	name := policygate.Normalize(in.ToolName)
	policy := models.Policy{}
	if in.Profile != nil {
		policy = in.Profile.Policy
	}

	custom, isCustom := d.lookupCustomTool(in.Profile, name)

	var decision policygate.Decision
	if isCustom {
		decision = policygate.EvaluateCustomTool(policy, name, string(in.Args))
	} else {
		decision = policygate.Evaluate(policy, policygate.Input{
			Tool: name,
			Path: extractPath(in.Args),
			Text: string(in.Args),
		})
	}

	if !decision.Allowed {
		return Result{Content: decision.Reason, IsError: true}, decision
	}

	if isCustom {
		result, err := d.runCustomTool(ctx, custom, in)
		if err != nil {
			return Result{Content: err.Error(), IsError: true}, decision
		}
		return result, decision
	}

	d.mu.RLock()
	tool, ok := d.tools[name]
	validator := d.validators[name]
	d.mu.RUnlock()
	if !ok {
		return Result{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, decision
	}

	if validator != nil {
		if err := validator.Validate(in.Args); err != nil {
			return Result{Content: fmt.Sprintf("%s: %v", name, err), IsError: true}, decision
		}
	}

	result, err := tool.Execute(ctx, CallInput{
		ActivationID:       in.ActivationID,
		AgentID:            in.AgentID,
		ParentActivationID: in.ParentActivationID,
		Profile:            in.Profile,
		Args:               in.Args,
	})
	if err != nil {
		return Result{Content: err.Error(), IsError: true}, decision
	}
	return result, decision
}

func (d *Dispatcher) lookupCustomTool(profile *models.AgentProfile, name string) (models.CustomTool, bool) {
	if profile == nil {
		return models.CustomTool{}, false
	}
	for _, t := range profile.CustomTools {
		if t.Name == name {
			return t, true
		}
	}
	return models.CustomTool{}, false
}

func (d *Dispatcher) runCustomTool(ctx context.Context, tool models.CustomTool, in DispatchInput) (Result, error) {
	if d.customCalls == nil {
		return Result{}, fmt.Errorf("custom tool %q has no provider invoker wired", tool.Name)
	}
	start := time.Now()
	content, err := d.customCalls.InvokeCustomTool(ctx, tool, in.Args)
	if err != nil {
		d.log.Warn("custom tool invocation failed", "tool", tool.Name, "error", err, "elapsed", time.Since(start))
		return Result{}, err
	}
	return Result{Content: content}, nil
}

func extractPath(args json.RawMessage) string {
	var v struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return ""
	}
	return v.Path
}
