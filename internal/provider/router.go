package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Reason classifies why a backend call failed, driving Router's decision
// to try the next candidate or give up. Grounded on the teacher's
// models.classifyErrorReason pattern matching, trimmed to the reasons the
// kernel distinguishes.
type Reason string

const (
	ReasonRateLimit   Reason = "rate_limit"
	ReasonAuthError   Reason = "auth_error"
	ReasonTimeout     Reason = "timeout"
	ReasonServerError Reason = "server_error"
	ReasonUnavailable Reason = "model_unavailable"
	ReasonAbort       Reason = "abort"
	ReasonUnknown     Reason = "unknown"
)

// ErrAllCandidatesFailed is returned when Router exhausts its candidate
// list without a successful Chat call.
var ErrAllCandidatesFailed = errors.New("all model candidates failed")

// Candidate is one backend/model pair a Router may try.
type Candidate struct {
	Backend string
	Model   string
}

// Attempt records one failed Candidate try, surfaced in the aggregated
// error so an operator can see why failover happened.
type Attempt struct {
	Candidate Candidate
	Reason    Reason
	Err       error
}

// Router tries a primary Candidate and falls back through a configured
// chain when the backend's Provider reports a retryable failure. Grounded
// on the teacher's models.RunWithModelFallback, adapted from a generic
// RunFunc[T] to the kernel's own Provider.Chat signature.
type Router struct {
	backends map[string]Provider
	chain    []Candidate
}

// NewRouter builds a Router over backends (keyed by Provider.Name()) that
// tries chain in order, first to last.
func NewRouter(backends map[string]Provider, chain []Candidate) *Router {
	return &Router{backends: backends, chain: chain}
}

// Chat tries each Candidate in the fallback chain in turn, returning the
// first successful ChatResponse. It stops early on a non-retryable error
// (auth, abort) rather than burning through the whole chain.
func (r *Router) Chat(ctx context.Context, sessionID string, req ChatRequest) (ChatResponse, Candidate, error) {
	if len(r.chain) == 0 {
		return ChatResponse{}, Candidate{}, fmt.Errorf("router has no candidates configured")
	}

	var attempts []Attempt
	for i, cand := range r.chain {
		if ctx.Err() != nil {
			return ChatResponse{}, Candidate{}, ctx.Err()
		}

		backend, ok := r.backends[cand.Backend]
		if !ok {
			attempts = append(attempts, Attempt{Candidate: cand, Reason: ReasonUnavailable, Err: fmt.Errorf("backend %q not registered", cand.Backend)})
			continue
		}

		candReq := req
		candReq.Model = cand.Model
		resp, err := backend.Chat(ctx, sessionID, candReq)
		if err == nil {
			return resp, cand, nil
		}

		reason := classifyReason(err)
		attempts = append(attempts, Attempt{Candidate: cand, Reason: reason, Err: err})

		if reason == ReasonAbort {
			return ChatResponse{}, Candidate{}, err
		}
		if !isRetryable(reason) {
			return ChatResponse{}, Candidate{}, err
		}
		if i == len(r.chain)-1 {
			break
		}
	}
	return ChatResponse{}, Candidate{}, fmt.Errorf("%w: %s", ErrAllCandidatesFailed, formatAttempts(attempts))
}

func isRetryable(r Reason) bool {
	switch r {
	case ReasonRateLimit, ReasonServerError, ReasonTimeout, ReasonUnavailable:
		return true
	default:
		return false
	}
}

func classifyReason(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ReasonAbort
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return ReasonRateLimit
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "401"), strings.Contains(msg, "403"), strings.Contains(msg, "invalid api key"):
		return ReasonAuthError
	case strings.Contains(msg, "model not found"), strings.Contains(msg, "does not exist"), strings.Contains(msg, "unavailable"):
		return ReasonUnavailable
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "internal server"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func formatAttempts(attempts []Attempt) string {
	var sb strings.Builder
	for i, a := range attempts {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s/%s: [%s] %v", a.Candidate.Backend, a.Candidate.Model, a.Reason, a.Err)
	}
	return sb.String()
}
