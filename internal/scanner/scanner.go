package scanner

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/apexsec/apex/internal/config"
	"github.com/apexsec/apex/internal/core"
	"github.com/apexsec/apex/internal/logger"
	"github.com/apexsec/apex/internal/risk"
	"github.com/apexsec/apex/pkg/types"
)

// Body text substituted when a response is not valid UTF-8. Keeps binary
// downloads out of the store while leaving a visible marker for the operator.
const binaryBodySentinel = "[Incompatible Binary Content]"

const maxBodyBytes = 2 << 20 // 2 MiB per probe

// Service probes one endpoint at a time: wait at the shared gate, issue the
// request, classify the response, and surface same-host follow-on candidates.
// A probe never returns an error; failures are encoded as a Connection Failed
// result so the inventory always records the attempt.
type Service struct {
	cfg    config.ScannerConfig
	client *http.Client
	gate   core.RateLimiter
	engine core.DetectionEngine
	logger *logger.Logger
}

func NewService(cfg config.ScannerConfig, gate core.RateLimiter, engine core.DetectionEngine, log *logger.Logger) *Service {
	return &Service{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				// Self-signed and staging certs are routine on audit targets.
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
				MaxIdleConnsPerHost: 4,
			},
		},
		gate:   gate,
		engine: engine,
		logger: log.WithComponent("scanner"),
	}
}

// normalizeMethod maps the stored method string to the verbs a probe may
// use. Feeders accept arbitrary method text; anything outside the
// state-changing set probes as GET.
func normalizeMethod(method string) string {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodPost:
		return http.MethodPost
	case http.MethodPut:
		return http.MethodPut
	case http.MethodDelete:
		return http.MethodDelete
	default:
		return http.MethodGet
	}
}

func (s *Service) Scan(ctx context.Context, targetURL, method string) *types.ScanResult {
	method = normalizeMethod(method)

	requestHeaders := fmt.Sprintf("Method: %s\nURL: %s\nUser-Agent: %s", method, targetURL, s.cfg.UserAgent)
	requestBody := ""

	if err := s.gate.Wait(ctx); err != nil {
		return failedResult(requestHeaders, err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		return failedResult(requestHeaders, err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debugw("Probe failed", "url", targetURL, "method", method, "error", err)
		return failedResult(requestHeaders, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return failedResult(requestHeaders, err)
	}

	body := string(raw)
	if !utf8.ValidString(body) {
		body = binaryBodySentinel
	}

	headers := flattenHeaders(resp.Header)

	// Detection sees both sides of the exchange: secrets echoed from the
	// request and response hygiene are checked in one pass, and finding
	// spans index into the combined text.
	combinedBody := requestBody + "\n" + body
	combinedHeaders := requestHeaders + "\n" + headers
	findings := s.engine.Analyze(targetURL, combinedBody, resp.StatusCode, method, combinedHeaders)
	score := risk.Score(findings)

	result := &types.ScanResult{
		Status:          risk.StatusFor(score),
		StatusCode:      resp.StatusCode,
		RiskScore:       score,
		Findings:        findings,
		ResponseHeaders: headers,
		ResponseBody:    body,
		RequestHeaders:  requestHeaders,
		DiscoveredURLs:  ExtractURLs(targetURL, body),
	}

	s.logger.Debugw("Probe completed",
		"url", targetURL,
		"method", method,
		"status_code", resp.StatusCode,
		"risk_score", score,
		"discovered", len(result.DiscoveredURLs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result
}

// failedResult encodes an unreachable endpoint. Status code 0 marks the row
// as never-reached; the error text rides in the response headers field so the
// operator can see why without a separate error column.
func failedResult(requestHeaders string, err error) *types.ScanResult {
	return &types.ScanResult{
		Status:          types.StatusConnectionFailed,
		StatusCode:      0,
		ResponseHeaders: fmt.Sprintf("Error: %v", err),
		RequestHeaders:  requestHeaders,
	}
}

func flattenHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
