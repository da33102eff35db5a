package detect

import (
	"regexp"
	"strings"

	"github.com/apexsec/apex/pkg/types"
)

// Engine is the built-in pattern engine. Every check is a total function over
// the response: a probe never fails because of detection.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

var (
	reAWSKey     = regexp.MustCompile(`AKIA[0-9A-Z]{16}`)
	rePrivateKey = regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`)
	reBearer     = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{20,}=*`)
	reGenericKey = regexp.MustCompile(`(?i)(?:api[_-]?key|secret[_-]?key|access[_-]?token)["':\s=]+[A-Za-z0-9\-._]{16,}`)
	reEmail      = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	reStackTrace = regexp.MustCompile(`(?m)^\s+at [\w.$]+\(|Traceback \(most recent call last\)|goroutine \d+ \[`)
)

// Analyze runs all checks against one response. Headers and body arrive as
// the concatenated request+response text the scan service assembled.
func (e *Engine) Analyze(url, body string, statusCode int, method, headers string) []types.Finding {
	var findings []types.Finding

	findings = append(findings, checkSecrets(body)...)
	findings = append(findings, checkPII(body)...)
	findings = append(findings, checkHeaders(headers, statusCode)...)
	findings = append(findings, checkErrors(body, statusCode)...)
	findings = append(findings, checkRaceHint(body, statusCode, method)...)

	// Reachable with no specific issue: record it as informational so the
	// endpoint still shows up in the surface inventory with context.
	if len(findings) == 0 && statusCode == 200 {
		findings = append(findings, types.Finding{
			Emoji:         "🌍",
			Short:         "Public",
			Severity:      types.SeverityInfo,
			Description:   "Public endpoint: accessible without auth errors, no specific vulnerabilities detected.",
			OWASPCategory: "API2:2023 Broken Authentication (Review)",
		})
	}

	return findings
}

func evidenceAround(body string, loc []int) (string, int, int) {
	if loc == nil {
		return "", 0, 0
	}
	return body[loc[0]:loc[1]], loc[0], loc[1]
}

func checkSecrets(body string) []types.Finding {
	var findings []types.Finding

	if loc := reAWSKey.FindStringIndex(body); loc != nil {
		ev, start, end := evidenceAround(body, loc)
		findings = append(findings, types.Finding{
			Emoji: "🔑", Short: "AWSKey", Severity: types.SeverityCritical,
			Description:   "AWS access key id exposed in response body.",
			OWASPCategory: "API8:2023 Security Misconfiguration",
			Evidence:      ev, Start: start, End: end,
		})
	}
	if loc := rePrivateKey.FindStringIndex(body); loc != nil {
		ev, start, end := evidenceAround(body, loc)
		findings = append(findings, types.Finding{
			Emoji: "🔐", Short: "PrivKey", Severity: types.SeverityCritical,
			Description:   "Private key material exposed in response body.",
			OWASPCategory: "API8:2023 Security Misconfiguration",
			Evidence:      ev, Start: start, End: end,
		})
	}
	if loc := reBearer.FindStringIndex(body); loc != nil {
		ev, start, end := evidenceAround(body, loc)
		findings = append(findings, types.Finding{
			Emoji: "🎫", Short: "Token", Severity: types.SeverityHigh,
			Description:   "Bearer token present in response body.",
			OWASPCategory: "API2:2023 Broken Authentication",
			Evidence:      ev, Start: start, End: end,
		})
	} else if loc := reGenericKey.FindStringIndex(body); loc != nil {
		ev, start, end := evidenceAround(body, loc)
		findings = append(findings, types.Finding{
			Emoji: "🗝️", Short: "Secret", Severity: types.SeverityHigh,
			Description:   "Credential-looking key/value pair in response body.",
			OWASPCategory: "API8:2023 Security Misconfiguration",
			Evidence:      ev, Start: start, End: end,
		})
	}

	return findings
}

func checkPII(body string) []types.Finding {
	emails := reEmail.FindAllStringIndex(body, 4)
	// A single address is usually a contact link; clusters suggest data
	// exposure.
	if len(emails) < 3 {
		return nil
	}
	ev, start, end := evidenceAround(body, emails[0])
	return []types.Finding{{
		Emoji: "👤", Short: "PII", Severity: types.SeverityMedium,
		Description:   "Multiple email addresses in response body, possible PII exposure.",
		OWASPCategory: "API3:2023 Broken Object Property Level Authorization",
		Evidence:      ev, Start: start, End: end,
	}}
}

func checkHeaders(headers string, statusCode int) []types.Finding {
	var findings []types.Finding
	lower := strings.ToLower(headers)

	if statusCode >= 200 && statusCode < 400 {
		if strings.Contains(lower, "content-type: text/html") &&
			!strings.Contains(lower, "content-security-policy") {
			findings = append(findings, types.Finding{
				Emoji: "🛡️", Short: "NoCSP", Severity: types.SeverityLow,
				Description:   "HTML response without a Content-Security-Policy header.",
				OWASPCategory: "API8:2023 Security Misconfiguration",
			})
		}
		if strings.Contains(lower, "x-powered-by:") {
			findings = append(findings, types.Finding{
				Emoji: "🏷️", Short: "TechLeak", Severity: types.SeverityLow,
				Description:   "X-Powered-By header discloses the backend technology.",
				OWASPCategory: "API8:2023 Security Misconfiguration",
			})
		}
		if strings.Contains(lower, "access-control-allow-origin: *") {
			findings = append(findings, types.Finding{
				Emoji: "🌐", Short: "CORS", Severity: types.SeverityMedium,
				Description:   "Wildcard CORS policy allows any origin.",
				OWASPCategory: "API8:2023 Security Misconfiguration",
			})
		}
	}

	return findings
}

func checkErrors(body string, statusCode int) []types.Finding {
	if statusCode < 500 {
		return nil
	}
	if loc := reStackTrace.FindStringIndex(body); loc != nil {
		ev, start, end := evidenceAround(body, loc)
		return []types.Finding{{
			Emoji: "💥", Short: "Trace", Severity: types.SeverityMedium,
			Description:   "Server error response contains a stack trace.",
			OWASPCategory: "API8:2023 Security Misconfiguration",
			Evidence:      ev, Start: start, End: end,
		}}
	}
	return nil
}

func checkRaceHint(body string, statusCode int, method string) []types.Finding {
	if statusCode != 200 {
		return nil
	}
	switch method {
	case "POST", "PUT", "DELETE":
	default:
		return nil
	}
	lower := strings.ToLower(body)
	for _, kw := range []string{"status", "state", "updated", "success"} {
		if idx := strings.Index(lower, kw); idx >= 0 {
			return []types.Finding{{
				Emoji: "🏁", Short: "Race", Severity: types.SeverityInfo,
				Description:   "State-changing endpoint returns status/state. If part of a multi-step flow, check for race conditions.",
				OWASPCategory: "API6:2023 Unrestricted Access to Sensitive Business Flows",
				Evidence:      body[idx : idx+len(kw)],
				Start:         idx, End: idx + len(kw),
			}}
		}
	}
	return nil
}
