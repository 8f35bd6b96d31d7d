package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
	defaultNodeTimeout     = 10 * time.Second
)

type requestSpec struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    any
	Timeout time.Duration
}

type response struct {
	Method      string
	URL         string
	StatusCode  int
	Status      string
	Headers     map[string]string
	ContentType string
	// Body is decoded JSON when the server says so, the raw text otherwise.
	Body any
	Raw  []byte
}

func (r *response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// call performs one outbound request. Transport failures and 5xx/429
// answers are NETWORK errors so the engine retries them; other 4xx
// answers are returned as ordinary responses.
func (d Deps) call(ctx context.Context, n *schema.Node, env *engine.Env, spec requestSpec) (*response, error) {
	if spec.URL == "" {
		return nil, invalid(n, "url is required")
	}
	u, err := url.ParseRequestURI(spec.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, invalid(n, "invalid url %q", spec.URL)
	}
	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	contentType := ""
	if spec.Body != nil && method != http.MethodGet && method != http.MethodHead {
		switch b := spec.Body.(type) {
		case string:
			body = strings.NewReader(b)
			if json.Valid([]byte(b)) {
				contentType = "application/json"
			} else {
				contentType = "text/plain"
			}
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return nil, invalid(n, "request body cannot be encoded: %v", err)
			}
			body = bytes.NewReader(encoded)
			contentType = "application/json"
		}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultNodeTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, spec.URL, body)
	if err != nil {
		return nil, invalid(n, "build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := d.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, schema.NewErrorf(schema.ErrCodeNetwork, "%s %s: %v", method, spec.URL, err).WithNode(n.ID).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, d.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNetwork, "read response: %v", err).WithNode(n.ID).WithCause(err)
	}

	out := &response{
		Method:      method,
		URL:         spec.URL,
		StatusCode:  resp.StatusCode,
		Status:      http.StatusText(resp.StatusCode),
		ContentType: resp.Header.Get("Content-Type"),
		Headers:     make(map[string]string, len(resp.Header)),
		Raw:         raw,
	}
	for k := range resp.Header {
		out.Headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	out.Body = decodeBody(out.ContentType, raw)

	d.Logger.DebugContext(ctx, "outbound request",
		"method", method, "url", spec.URL, "status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, schema.NewErrorf(schema.ErrCodeNetwork, "%s %s: server returned %d", method, spec.URL, resp.StatusCode).
			WithNode(n.ID).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": truncate(string(raw), 200)})
	}
	return out, nil
}

func decodeBody(contentType string, raw []byte) any {
	if len(raw) == 0 {
		return ""
	}
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

func renderHeaders(env *engine.Env, m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = env.Render(expressions.Stringify(v))
	}
	return out
}

// bodyParam renders a request body. JSON text stays text so the caller
// controls its exact shape.
func bodyParam(env *engine.Env, n *schema.Node, key string) any {
	v, ok := raw(n, key)
	if !ok {
		return nil
	}
	rendered := env.RenderValue(v)
	if s, isStr := rendered.(string); isStr && strings.TrimSpace(s) == "" {
		return nil
	}
	return rendered
}

// IntegrationHandlers returns the REST, GraphQL and CSV nodes.
func IntegrationHandlers(deps Deps) []engine.Handler {
	deps.defaults()
	return []engine.Handler{
		engine.HandlerOf(schema.NodeIntegrationREST, deps.restAPI),
		engine.HandlerOf(schema.NodeIntegrationGraphQL, deps.graphQL),
		engine.HandlerOf(schema.NodeIntegrationCSV, deps.csvParser),
	}
}

func (d Deps) restAPI(ctx context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	variable := stringParam(n, "responseVariable", "apiResponse")
	resp, err := d.call(ctx, n, env, requestSpec{
		URL:     textParam(env, n, "url", ""),
		Method:  stringParam(n, "method", "GET"),
		Headers: renderHeaders(env, mapParam(n, "headers")),
		Body:    bodyParam(env, n, "body"),
		Timeout: timeoutParam(env, n),
	})
	if err != nil {
		return nil, err
	}
	return engine.Next().
		SetVar(variable, resp.Body).
		SetVar(variable+"_status", float64(resp.StatusCode)).
		SetVar(variable+"_statusText", resp.Status).
		SetVar(variable+"_headers", resp.Headers).
		SetVar(variable+"_ok", resp.OK()), nil
}

func (d Deps) graphQL(ctx context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	query := stringParam(n, "query", "")
	if strings.TrimSpace(query) == "" {
		return nil, invalid(n, "graphql query is empty")
	}
	variables := map[string]any{}
	if m := mapParam(n, "variables"); m != nil {
		if rendered, ok := env.RenderValue(m).(map[string]any); ok {
			variables = rendered
		}
	}

	variable := stringParam(n, "responseVariable", "graphqlResponse")
	resp, err := d.call(ctx, n, env, requestSpec{
		URL:     firstText(env, n, "", "endpoint", "url"),
		Method:  http.MethodPost,
		Headers: renderHeaders(env, mapParam(n, "headers")),
		Body:    map[string]any{"query": env.Render(query), "variables": variables},
		Timeout: timeoutParam(env, n),
	})
	if err != nil {
		return nil, err
	}

	full, ok := resp.Body.(map[string]any)
	if !ok {
		return nil, failed(n, "graphql endpoint returned non-JSON body (status %d)", resp.StatusCode)
	}
	if errs, _ := full["errors"].([]any); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			if m, ok := e.(map[string]any); ok {
				msgs = append(msgs, expressions.Stringify(m["message"]))
			}
		}
		return nil, failed(n, "graphql errors: %s", strings.Join(msgs, "; "))
	}
	return engine.Next().
		SetVar(variable, full["data"]).
		SetVar(variable+"_full", full).
		SetVar(variable+"_status", float64(resp.StatusCode)), nil
}
