package builtin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/draftforge/draftforge/pkg/errors"
	"github.com/draftforge/draftforge/pkg/httpclient"
	"github.com/draftforge/draftforge/pkg/tools"
)

// HTTPTool provides generic HTTP request capabilities for pipelines that
// need to reach arbitrary APIs (fetching a source article, posting to a
// webhook).
type HTTPTool struct {
	// timeout sets the maximum request time
	timeout time.Duration

	// allowedHosts restricts which hosts can be accessed (normalized to lowercase)
	// If empty, all hosts are allowed
	allowedHosts []string

	// allowSubdomains enables subdomain matching for allowed hosts (default: false)
	allowSubdomains bool

	// blockPrivateIPs blocks requests to private IP ranges (default: true)
	blockPrivateIPs bool

	// requireHTTPS requires HTTPS scheme for all requests (default: false)
	requireHTTPS bool

	// logger for security audit logging (optional)
	logger *slog.Logger

	// lookupIP resolves hostnames for the private-address check.
	// Replaced in tests to avoid real DNS.
	lookupIP func(ctx context.Context, host string) ([]net.IP, error)

	// client is the HTTP client
	client *http.Client
}

// NewHTTPTool creates a new HTTP tool with default settings.
// Secure defaults: allowSubdomains=false, blockPrivateIPs=true, requireHTTPS=false
func NewHTTPTool() *HTTPTool {
	t := &HTTPTool{
		timeout:         30 * time.Second,
		allowedHosts:    []string{},
		allowSubdomains: false,
		blockPrivateIPs: true,
		requireHTTPS:    false,
	}
	t.lookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		ips := make([]net.IP, len(addrs))
		for i, addr := range addrs {
			ips[i] = addr.IP
		}
		return ips, nil
	}
	t.client = t.createHTTPClient()
	return t
}

// WithTimeout sets the HTTP request timeout.
func (t *HTTPTool) WithTimeout(timeout time.Duration) *HTTPTool {
	t.timeout = timeout
	t.client = t.createHTTPClient()
	return t
}

// WithAllowedHosts restricts which hosts can be accessed.
// Hosts are normalized to lowercase for case-insensitive comparison.
// Empty hosts and duplicates are automatically filtered out.
func (t *HTTPTool) WithAllowedHosts(hosts []string) *HTTPTool {
	normalized := make([]string, 0, len(hosts))
	seen := make(map[string]bool)
	for _, host := range hosts {
		if host == "" {
			continue
		}
		lower := strings.ToLower(strings.TrimSpace(host))
		if !seen[lower] {
			normalized = append(normalized, lower)
			seen[lower] = true
		}
	}
	t.allowedHosts = normalized
	return t
}

// WithSubdomainMatching enables or disables subdomain matching for allowed hosts.
// When enabled, "example.com" will allow "api.example.com".
func (t *HTTPTool) WithSubdomainMatching(allow bool) *HTTPTool {
	t.allowSubdomains = allow
	return t
}

// WithBlockPrivateIPs enables or disables blocking of private IP addresses.
func (t *HTTPTool) WithBlockPrivateIPs(block bool) *HTTPTool {
	t.blockPrivateIPs = block
	return t
}

// WithRequireHTTPS enables or disables HTTPS requirement.
func (t *HTTPTool) WithRequireHTTPS(require bool) *HTTPTool {
	t.requireHTTPS = require
	return t
}

// WithLogger sets the logger for security audit logging.
func (t *HTTPTool) WithLogger(logger *slog.Logger) *HTTPTool {
	t.logger = logger
	return t
}

// Name returns the tool identifier.
func (t *HTTPTool) Name() string {
	return "http_request"
}

// Description returns a human-readable description.
func (t *HTTPTool) Description() string {
	return "Make HTTP requests to external APIs"
}

// Schema returns the tool's input/output schema.
func (t *HTTPTool) Schema() *tools.Schema {
	return &tools.Schema{
		Inputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"method": {
					Type:        "string",
					Description: "HTTP method (GET, POST, PUT, DELETE, etc.)",
					Default:     "GET",
				},
				"url": {
					Type:        "string",
					Description: "The URL to request",
					Format:      "uri",
				},
				"headers": {
					Type:        "object",
					Description: "HTTP headers to include (optional)",
				},
				"body": {
					Type:        "string",
					Description: "Request body (optional, for POST/PUT)",
				},
			},
			Required: []string{"url"},
		},
		Outputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"success": {
					Type:        "boolean",
					Description: "Whether the request succeeded (2xx status)",
				},
				"status_code": {
					Type:        "number",
					Description: "HTTP status code",
				},
				"headers": {
					Type:        "object",
					Description: "Response headers",
				},
				"body": {
					Type:        "string",
					Description: "Response body",
				},
				"error": {
					Type:        "string",
					Description: "Error message if request failed",
				},
			},
		},
	}
}

// Execute performs an HTTP request.
func (t *HTTPTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	rawURL, ok := inputs["url"].(string)
	if !ok {
		return nil, &errors.ValidationError{
			Field:      "url",
			Message:    "url must be a string",
			Suggestion: "Provide a valid URL as a string",
		}
	}

	if err := t.validateURL(ctx, rawURL); err != nil {
		return nil, fmt.Errorf("URL validation failed: %w", err)
	}

	method := "GET"
	if methodRaw, ok := inputs["method"]; ok {
		method, ok = methodRaw.(string)
		if !ok {
			return nil, &errors.ValidationError{
				Field:      "method",
				Message:    "method must be a string",
				Suggestion: "Provide HTTP method as a string (GET, POST, PUT, DELETE, etc.)",
			}
		}
		method = strings.ToUpper(method)
	}

	var body io.Reader
	if bodyRaw, ok := inputs["body"]; ok {
		bodyStr, ok := bodyRaw.(string)
		if !ok {
			return nil, &errors.ValidationError{
				Field:      "body",
				Message:    "body must be a string",
				Suggestion: "Provide request body as a string",
			}
		}
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return map[string]interface{}{
			"success": false,
			"error":   fmt.Sprintf("failed to create request: %v", err),
		}, nil
	}

	if headersRaw, ok := inputs["headers"]; ok {
		headers, ok := headersRaw.(map[string]interface{})
		if !ok {
			return nil, &errors.ValidationError{
				Field:      "headers",
				Message:    "headers must be an object",
				Suggestion: "Provide headers as a map of header names to values",
			}
		}
		for key, value := range headers {
			valueStr, ok := value.(string)
			if !ok {
				return nil, &errors.ValidationError{
					Field:      fmt.Sprintf("headers.%s", key),
					Message:    "header values must be strings",
					Suggestion: "Ensure all header values are strings",
				}
			}
			req.Header.Set(key, valueStr)
		}
	}

	if (method == "POST" || method == "PUT") && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return map[string]interface{}{
			"success": false,
			"error":   fmt.Sprintf("request failed: %v", err),
		}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return map[string]interface{}{
			"success":     false,
			"status_code": resp.StatusCode,
			"error":       fmt.Sprintf("failed to read response body: %v", err),
		}, nil
	}

	headers := make(map[string]interface{})
	for key, values := range resp.Header {
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = values
		}
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	return map[string]interface{}{
		"success":     success,
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(respBody),
	}, nil
}

// validateURL checks if a URL is allowed using proper URL parsing and
// hostname matching. This prevents SSRF attacks via substring matching
// bypasses.
func (t *HTTPTool) validateURL(ctx context.Context, rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("URL parsing failed", "url", rawURL, "error", err)
		}
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		if t.logger != nil {
			t.logger.Warn("invalid URL scheme blocked", "scheme", parsedURL.Scheme, "url", rawURL)
		}
		return fmt.Errorf("invalid URL scheme: only http/https allowed")
	}

	if t.requireHTTPS && parsedURL.Scheme != "https" {
		if t.logger != nil {
			t.logger.Warn("non-HTTPS URL blocked", "url", rawURL)
		}
		return fmt.Errorf("HTTPS required")
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	if hostname == "" {
		if t.logger != nil {
			t.logger.Warn("empty hostname blocked", "url", rawURL)
		}
		return fmt.Errorf("invalid URL: empty hostname")
	}

	if t.blockPrivateIPs {
		if ip := net.ParseIP(hostname); ip != nil {
			if disallowedIP(ip) {
				if t.logger != nil {
					t.logger.Warn("private IP address blocked", "ip", hostname, "url", rawURL)
				}
				return fmt.Errorf("requests to private IP addresses not allowed")
			}
		} else {
			// Resolve the name so a hostname pointing at an internal
			// address cannot slip past the literal-IP check.
			ips, err := t.lookupIP(ctx, hostname)
			if err != nil {
				return fmt.Errorf("failed to resolve host %s: %w", hostname, err)
			}
			for _, ip := range ips {
				if disallowedIP(ip) {
					if t.logger != nil {
						t.logger.Warn("host resolving to private address blocked",
							"hostname", hostname, "ip", ip.String(), "url", rawURL)
					}
					return fmt.Errorf("host %s resolves to a private address", hostname)
				}
			}
		}
	}

	if len(t.allowedHosts) > 0 {
		allowed := false
		for _, allowedHost := range t.allowedHosts {
			if hostname == allowedHost {
				allowed = true
				break
			}
			if t.allowSubdomains && strings.HasSuffix(hostname, "."+allowedHost) {
				allowed = true
				break
			}
		}
		if !allowed {
			// Log for security audit, but don't expose allowed hosts list in error
			if t.logger != nil {
				t.logger.Warn("hostname not in allowed list", "hostname", hostname, "url", rawURL)
			}
			return fmt.Errorf("host not in allowed list")
		}
	}

	return nil
}

func disallowedIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}

// createHTTPClient creates an HTTP client using the shared httpclient
// package, with redirect validation for SSRF protection.
func (t *HTTPTool) createHTTPClient() *http.Client {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = t.timeout
	cfg.UserAgent = "draftforge-http-tool/1.0"

	baseClient, err := httpclient.New(cfg)
	if err != nil {
		baseClient = &http.Client{Timeout: t.timeout}
	}

	baseClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("too many redirects")
		}
		if err := t.validateURL(req.Context(), req.URL.String()); err != nil {
			if t.logger != nil {
				t.logger.Warn("redirect target blocked", "url", req.URL.String(), "error", err)
			}
			return fmt.Errorf("redirect target not allowed: %w", err)
		}
		return nil
	}

	return baseClient
}
