// Package httprequest implements the http_request action: an outbound HTTP
// call with templated URL, headers and body.
package httprequest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/protocol"
	"github.com/atlas-fitness/automations/pkg/template"
)

const maxResponseBytes = 1 << 20 // 1MB

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "http_request"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http_request action requires a url")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)
	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for key, value := range headersConfig {
			if text, ok := value.(string); ok {
				headers[key] = text
			}
		}
	}

	return &Action{
		method:  strings.ToUpper(method),
		url:     url,
		headers: headers,
		body:    body,
		client:  &http.Client{},
	}, nil
}

type Action struct {
	method  string
	url     string
	headers map[string]string
	body    string
	client  *http.Client
}

// Execute performs the request. The per-attempt timeout and retries live in
// the coordinator; a 5xx response is reported as an error so it retries,
// while 4xx responses are returned as results since retrying cannot fix them.
func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("action_type", "http_request")

	url, err := template.RenderString(a.url, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render url: %w", err)
	}

	var bodyReader io.Reader

	if a.body != "" {
		rendered, err := template.RenderString(a.body, &executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render body: %w", err)
		}

		bodyReader = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, a.method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range a.headers {
		rendered, err := template.RenderString(value, &executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render header %s: %w", key, err)
		}

		req.Header.Set(key, rendered)
	}

	started := time.Now()

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		body = string(raw)
	}

	logger.InfoContext(ctx, "HTTP request completed",
		"method", a.method, "url", url,
		"status_code", resp.StatusCode, "duration", time.Since(started).String())

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}, nil
}
