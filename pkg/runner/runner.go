// Package runner executes logical API tests: it sends one request to a
// target endpoint, letting the auth chain resolver decorate the request and
// decide on fallback when the target rejects a credential.
package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apitest-cli/apitest/pkg/auth"
	"github.com/apitest-cli/apitest/pkg/errors"
	"github.com/apitest-cli/apitest/pkg/logger"
	"github.com/apitest-cli/apitest/pkg/networking"
)

const maxBodyBytes = 1 << 20

// Request describes one logical test request before auth decoration.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Result is the final outcome of one logical test.
type Result struct {
	RunID        string
	Method       string
	URL          string
	StatusCode   int
	Body         string
	Duration     time.Duration
	AuthAttempts int

	// AuthExhausted is set when every auth method was rejected with
	// 401/403; StatusCode then holds the last rejection status.
	AuthExhausted bool
}

// Runner executes logical tests against a target API.
type Runner struct {
	client   *http.Client
	resolver *auth.Resolver
}

// Option configures a Runner.
type Option func(*Runner)

// WithHTTPClient sets the client used for target requests.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Runner) { r.client = client }
}

// New creates a runner that decorates requests through the given resolver.
func New(resolver *auth.Resolver, opts ...Option) *Runner {
	r := &Runner{resolver: resolver}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		client, err := networking.NewHTTPClientBuilder().Build()
		if err != nil {
			client = &http.Client{Timeout: networking.HTTPTimeout}
		}
		r.client = client
	}
	return r
}

// Execute runs one logical test. The request is retried with the next auth
// candidate only when the target answers 401 or 403; any other response, and
// any transport failure, is final. Transport failures are reported as
// network errors and never advance the chain. A final 4xx/5xx response is
// returned alongside a networking.HTTPError so callers can fail a run
// without inspecting the result; the result still carries status and body.
func (r *Runner) Execute(ctx context.Context, chain auth.Chain, req Request) (*Result, error) {
	result := &Result{
		RunID:  uuid.NewString(),
		Method: req.Method,
		URL:    req.URL,
	}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	state := auth.NewState()
	for {
		decoration, next, err := r.resolver.NextDecoration(ctx, chain, state)
		if err != nil {
			if next.Phase() == auth.PhaseExhausted {
				result.AuthAttempts = next.Attempts()
				result.AuthExhausted = true
				return result, exhaustedError(chain.Len(), err)
			}
			return result, err
		}
		state = next
		result.AuthAttempts = state.Attempts()

		logger.Debugw("attempting request",
			"run_id", result.RunID, "method", req.Method, "url", req.URL,
			"auth", chain.At(state.Index()).String(), "candidate", state.Index())

		statusCode, body, err := r.attempt(ctx, req, decoration)
		outcome := auth.Outcome{StatusCode: statusCode, Err: err}

		state, decision := r.resolver.ReportOutcome(ctx, chain, state, outcome)
		if decision == auth.DecisionRetry {
			continue
		}

		if err != nil {
			return result, errors.NewNetworkError(
				fmt.Sprintf("request to %s failed", req.URL), err)
		}

		result.StatusCode = statusCode
		result.Body = body
		if state.Phase() == auth.PhaseExhausted {
			result.AuthExhausted = true
			return result, exhaustedError(chain.Len(), nil)
		}
		if statusCode >= http.StatusBadRequest {
			return result, networking.NewHTTPError(statusCode, req.URL, "target returned an error response")
		}
		return result, nil
	}
}

func exhaustedError(methods int, cause error) error {
	noun := "methods"
	if methods == 1 {
		noun = "method"
	}
	return errors.NewAuthExhaustedError(
		fmt.Sprintf("authentication failed after trying %d %s", methods, noun), cause)
}

// attempt performs one decorated HTTP request. A non-nil error means the
// request never produced an HTTP response.
func (r *Runner) attempt(ctx context.Context, req Request, decoration auth.Decoration) (int, string, error) {
	target := req.URL
	if len(decoration.QueryParams) > 0 {
		parsed, err := url.Parse(target)
		if err != nil {
			return 0, "", err
		}
		query := parsed.Query()
		for k, v := range decoration.QueryParams {
			query.Set(k, v)
		}
		parsed.RawQuery = query.Encode()
		target = parsed.String()
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return 0, "", err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	// Auth decoration wins over profile headers on conflict.
	for k, v := range decoration.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(respBody), nil
}

var pathParamRegex = regexp.MustCompile(`\{([^{}]+)\}`)

// BuildURL joins a base URL and path, substituting {name} path parameters
// from params. Unknown parameters are left literal.
func BuildURL(baseURL, path string, params map[string]string) string {
	expanded := pathParamRegex.ReplaceAllStringFunc(path, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := params[name]; ok {
			return value
		}
		return match
	})
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(expanded, "/")
}
