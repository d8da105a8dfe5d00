package provider

import (
	"context"
	"log/slog"
)

// BuildFallbackChain orders Router's candidate list: the requested model
// on defaultBackend first, then every other id in fallbackChain paired
// with its own configured default model. Grounded on the teacher's
// BuildFallbackCandidates, adapted from a flat list of "provider/model"
// refs to the kernel's LLMConfig shape, which keys one default model per
// backend rather than per fallback entry.
func BuildFallbackChain(defaultBackend, requestedModel string, fallbackChain []string, defaultModels map[string]string) []Candidate {
	candidates := make([]Candidate, 0, 1+len(fallbackChain))
	seen := make(map[string]bool, 1+len(fallbackChain))

	if defaultBackend != "" {
		candidates = append(candidates, Candidate{Backend: defaultBackend, Model: requestedModel})
		seen[defaultBackend] = true
	}
	for _, backend := range fallbackChain {
		if seen[backend] {
			continue
		}
		seen[backend] = true
		model := defaultModels[backend]
		if model == "" {
			continue
		}
		candidates = append(candidates, Candidate{Backend: backend, Model: model})
	}
	return candidates
}

// RoutedProvider adapts a Router to the Provider interface the
// ActivationLoop resolves a model to. ActivationLoop never sees the
// Candidate Router actually picked — only the ChatResponse — so a
// fallback to a cheaper or different backend is transparent to it; the
// chosen Candidate is logged for operators who need to know why a
// turn's latency or cost looks off.
type RoutedProvider struct {
	router   *Router
	backends map[string]Provider
	model    string
	log      *slog.Logger
}

// NewRoutedProvider builds a RoutedProvider over backends, trying chain
// in order. model is what Name() reports: the caller's originally
// requested model id, not whichever candidate eventually served the
// call.
func NewRoutedProvider(backends map[string]Provider, chain []Candidate, model string, log *slog.Logger) *RoutedProvider {
	if log == nil {
		log = slog.Default()
	}
	return &RoutedProvider{router: NewRouter(backends, chain), backends: backends, model: model, log: log}
}

// Name implements Provider.
func (p *RoutedProvider) Name() string { return p.model }

// Chat implements Provider by delegating to Router.Chat and discarding
// the winning Candidate after logging it.
func (p *RoutedProvider) Chat(ctx context.Context, sessionID string, req ChatRequest) (ChatResponse, error) {
	resp, cand, err := p.router.Chat(ctx, sessionID, req)
	if err != nil {
		return ChatResponse{}, err
	}
	p.log.Debug("router selected candidate", "session_id", sessionID, "backend", cand.Backend, "model", cand.Model)
	return resp, nil
}

// Abort implements Provider by fanning out to every backend Router might
// have been using: only the one actually tracking sessionID does
// anything, the rest no-op.
func (p *RoutedProvider) Abort(sessionID string) {
	for _, backend := range p.backends {
		backend.Abort(sessionID)
	}
}
