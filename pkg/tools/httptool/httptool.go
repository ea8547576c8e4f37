// Package httptool implements http_tool: performs an outbound HTTP
// request through pkg/httpclient's retry/backoff client, grounded on the
// teacher's pkg/tool/webtool/web_request.go (WebRequestArgs'
// url/method/headers/body shape, domain allow-listing, response size
// cap) adapted to return a tool.Result instead of a functiontool-wrapped
// struct.
package httptool

import (
	"io"
	"net/http"
	"strings"

	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
	"github.com/Din829/DbRheo-CLI/pkg/httpclient"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// Config configures the http_tool.
type Config struct {
	Client *httpclient.Client
	// MaxResponseSize caps how many response bytes are read; 0 means the
	// package default of 10MiB.
	MaxResponseSize int64
	// AllowedDomains restricts requests to URLs containing one of these
	// substrings; empty means unrestricted.
	AllowedDomains []string
}

// Tool performs one outbound HTTP request per call.
type Tool struct {
	cfg Config
}

// New constructs an http_tool Tool.
func New(cfg Config) *Tool {
	if cfg.Client == nil {
		cfg.Client = httpclient.New()
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = 10 << 20
	}
	return &Tool{cfg: cfg}
}

func (t *Tool) Name() string { return "http_tool" }

func (t *Tool) Description() string {
	return "Make an outbound HTTP request with retry/backoff and return its status, headers, and body."
}

func (t *Tool) Capabilities() []types.Capability {
	return []types.Capability{types.CapExport}
}

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":     map[string]any{"type": "string", "description": "The URL to request"},
			"method":  map[string]any{"type": "string", "description": "HTTP method; defaults to GET"},
			"headers": map[string]any{"type": "object", "description": "Request headers"},
			"body":    map[string]any{"type": "string", "description": "Request body for POST/PUT/PATCH"},
		},
		"required": []string{"url"},
	}
}

// AssessRisk implements tool.RiskAssessor: read-only verbs are low risk,
// anything else is medium, since a non-GET request may mutate remote state
// the core has no visibility into.
func (t *Tool) AssessRisk(args map[string]any) types.RiskAssessment {
	method := strings.ToUpper(stringArg(args, "method"))
	if method == "" || method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
		return types.RiskAssessment{Level: types.RiskLow}
	}
	return types.RiskAssessment{
		Level:                types.RiskMedium,
		Reasons:              []string{"outbound " + method + " request may have side effects on the remote service"},
		RequiresConfirmation: true,
	}
}

func (t *Tool) Call(ctx tool.Context, args map[string]any) (*tool.Result, error) {
	rawURL := stringArg(args, "url")
	if rawURL == "" {
		return nil, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "url is required")
	}
	if !allowedDomain(rawURL, t.cfg.AllowedDomains) {
		return nil, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "url "+rawURL+" is not in the allowed domain list")
	}

	method := stringArg(args, "method")
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if b := stringArg(args, "body"); b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), rawURL, body)
	if err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindInvalidToolCall, "building request", err)
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindToolExecution, "performing http request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxResponseSize))
	if err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindToolExecution, "reading response body", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &tool.Result{Content: map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    string(data),
	}}, nil
}

func allowedDomain(rawURL string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, domain := range allowed {
		if strings.Contains(rawURL, domain) {
			return true
		}
	}
	return false
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

var (
	_ tool.CallableTool = (*Tool)(nil)
	_ tool.RiskAssessor = (*Tool)(nil)
)
