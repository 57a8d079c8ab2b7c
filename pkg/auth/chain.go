package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/apitest-cli/apitest/pkg/errors"
	"github.com/apitest-cli/apitest/pkg/logger"
)

// TokenSource produces bearer tokens for OAuth2 chain candidates. Implemented
// by the oauth token manager; injected so the resolver is testable without a
// token endpoint.
type TokenSource interface {
	// GetToken returns a currently-valid access token for the spec.
	GetToken(ctx context.Context, spec *OAuth2Spec) (string, error)

	// Invalidate evicts any cached token for the spec. Used when the target
	// API rejects a cached token that carries no expiry of its own.
	Invalidate(ctx context.Context, spec *OAuth2Spec) error
}

// Phase is the progress of one logical test through its auth chain.
type Phase int

const (
	// PhaseCandidate means a chain entry is currently being tried.
	PhaseCandidate Phase = iota

	// PhaseDone means the test finished: the last attempt either succeeded
	// or failed for a reason that is not an authorization rejection.
	PhaseDone

	// PhaseExhausted means every candidate was rejected with 401/403.
	PhaseExhausted
)

// State tracks chain progress for one logical test. It is a small value;
// callers thread it through NextDecoration and ReportOutcome.
type State struct {
	phase    Phase
	index    int
	attempts int
}

// NewState returns the initial state: trying candidate 0.
func NewState() State {
	return State{phase: PhaseCandidate}
}

// Phase returns the current phase.
func (s State) Phase() Phase { return s.phase }

// Index returns the position of the candidate currently (or last) tried.
func (s State) Index() int { return s.index }

// Attempts returns how many candidates have produced a decoration so far.
func (s State) Attempts() int { return s.attempts }

// Terminal reports whether the chain has reached a final decision.
func (s State) Terminal() bool { return s.phase != PhaseCandidate }

// Decoration is what the caller applies to the next request attempt.
type Decoration struct {
	Headers     map[string]string
	QueryParams map[string]string
}

// Decision tells the caller what to do after reporting an outcome.
type Decision int

const (
	// DecisionStop means the outcome is final for this logical test.
	DecisionStop Decision = iota

	// DecisionRetry means the request should be retried with the next
	// candidate's decoration.
	DecisionRetry
)

// Resolver orchestrates an auth chain: it decorates outbound requests and
// decides from response outcomes whether to fall back to the next candidate.
// A Resolver is safe for concurrent use across independent logical tests.
type Resolver struct {
	tokens TokenSource
}

// NewResolver creates a resolver using the given token source for OAuth2
// candidates.
func NewResolver(tokens TokenSource) *Resolver {
	return &Resolver{tokens: tokens}
}

// NextDecoration produces the decoration for the current candidate. OAuth2
// candidates whose token cannot be obtained are treated as unusable,
// equivalent to a 401/403 outcome: the chain advances without an HTTP
// attempt. When that exhausts the chain, the returned state is terminal and
// the last token error is returned.
func (r *Resolver) NextDecoration(ctx context.Context, chain Chain, state State) (Decoration, State, error) {
	if state.Terminal() {
		return Decoration{}, state, errors.NewInternalError("auth chain already reached a final state", nil)
	}

	attempts := state.attempts
	for i := state.index; i < chain.Len(); i++ {
		spec := chain.At(i)

		decoration, err := r.decorate(ctx, spec)
		if err == nil {
			return decoration, State{phase: PhaseCandidate, index: i, attempts: attempts + 1}, nil
		}

		// A cancelled run is not an unusable credential.
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return Decoration{}, state, err
		}

		attempts++
		logger.Debugw("auth candidate unusable, trying next",
			"candidate", i, "kind", spec.Kind, "error", err)

		if i+1 >= chain.Len() {
			logger.Debugf("all %d auth methods failed with 401/403", chain.Len())
			return Decoration{}, State{phase: PhaseExhausted, index: i, attempts: attempts}, err
		}
	}

	return Decoration{}, State{phase: PhaseExhausted, index: chain.Len() - 1, attempts: attempts},
		errors.NewInternalError("auth chain has no remaining candidates", nil)
}

// decorate builds the request decoration for a single spec. The switch is
// exhaustive over Kind.
func (r *Resolver) decorate(ctx context.Context, spec Spec) (Decoration, error) {
	switch spec.Kind {
	case KindBearer:
		return Decoration{Headers: map[string]string{"Authorization": "Bearer " + spec.Token}}, nil

	case KindAPIKey:
		if spec.KeyLocation == LocationQuery {
			return Decoration{QueryParams: map[string]string{spec.KeyName: spec.KeyValue}}, nil
		}
		return Decoration{Headers: map[string]string{spec.KeyName: spec.KeyValue}}, nil

	case KindHeader:
		return Decoration{Headers: map[string]string{spec.HeaderName: spec.HeaderValue}}, nil

	case KindOAuth2:
		token, err := r.tokens.GetToken(ctx, spec.OAuth)
		if err != nil {
			return Decoration{}, err
		}
		return Decoration{Headers: map[string]string{"Authorization": "Bearer " + token}}, nil

	default:
		return Decoration{}, errors.NewConfigurationError(fmt.Sprintf("unknown auth kind: %q", spec.Kind), nil)
	}
}

// Outcome is the result of one physical HTTP attempt, reported by the caller.
// Err is set for non-HTTP failures (timeout, connection error), in which case
// StatusCode is meaningless.
type Outcome struct {
	StatusCode int
	Err        error
}

// authRejected reports whether the outcome is an authorization rejection.
func (o Outcome) authRejected() bool {
	return o.Err == nil &&
		(o.StatusCode == http.StatusUnauthorized || o.StatusCode == http.StatusForbidden)
}

// ReportOutcome applies the transition rule for one attempt's outcome:
// 401/403 advances to the next candidate (or exhausts the chain); any other
// status or any non-HTTP failure terminates immediately without advancing,
// so server problems are never masked as authentication issues.
func (r *Resolver) ReportOutcome(ctx context.Context, chain Chain, state State, outcome Outcome) (State, Decision) {
	if state.Terminal() {
		return state, DecisionStop
	}

	if !outcome.authRejected() {
		return State{phase: PhaseDone, index: state.index, attempts: state.attempts}, DecisionStop
	}

	// The target rejected the credential. For OAuth2 candidates, evict any
	// cached token so a token without expiry metadata cannot be reused.
	spec := chain.At(state.index)
	if spec.Kind == KindOAuth2 {
		if err := r.tokens.Invalidate(ctx, spec.OAuth); err != nil {
			logger.Warnw("failed to invalidate rejected cached token", "error", err)
		}
	}

	if state.index+1 < chain.Len() {
		logger.Debugw("auth attempt failed, trying next candidate",
			"candidate", state.index, "status", outcome.StatusCode)
		return State{phase: PhaseCandidate, index: state.index + 1, attempts: state.attempts}, DecisionRetry
	}

	logger.Debugf("all %d auth methods failed with 401/403", chain.Len())
	return State{phase: PhaseExhausted, index: state.index, attempts: state.attempts}, DecisionStop
}
