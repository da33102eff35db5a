package types

import (
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

// Asset source labels. Sources only upgrade: a Recursive row can be relabeled
// by an operator action, an explicit source is never demoted back to Recursive.
const (
	SourceUser      = "User"
	SourceImport    = "Import"
	SourceRecursive = "Recursive"
	SourceProxy     = "Proxy"
	SourceWorkbench = "Workbench"
	SourceDiscovery = "Discovery"
)

// Scan status labels derived from the aggregated risk score.
const (
	StatusPending          = "Pending"
	StatusSafe             = "Safe"
	StatusSuspicious       = "Suspicious"
	StatusWarning          = "Warning"
	StatusCritical         = "Critical"
	StatusConnectionFailed = "Connection Failed"
)

// Finding is a single detected issue. Findings are produced by the detection
// engine and persisted embedded in the asset row as a JSON blob; the only
// in-place mutation is the false-positive toggle.
type Finding struct {
	Emoji         string                 `json:"emoji"`
	Short         string                 `json:"short"`
	Severity      Severity               `json:"severity"`
	Description   string                 `json:"description"`
	OWASPCategory string                 `json:"owasp_category,omitempty"`
	Evidence      string                 `json:"evidence,omitempty"`
	Start         int                    `json:"start,omitempty"`
	End           int                    `json:"end,omitempty"`
	IsFP          bool                   `json:"is_fp"`
	FPReason      string                 `json:"fp_reason,omitempty"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// Asset is a tracked (url, method) endpoint and its latest scan state.
type Asset struct {
	ID              int64     `json:"id" db:"id"`
	URL             string    `json:"url" db:"url"`
	Method          string    `json:"method" db:"method"`
	Status          string    `json:"status" db:"status"`
	StatusCode      int       `json:"status_code" db:"status_code"`
	RiskScore       int       `json:"risk_score" db:"risk_score"`
	Findings        []Finding `json:"findings" db:"-"`
	FolderID        int64     `json:"folder_id" db:"folder_id"`
	ResponseHeaders string    `json:"response_headers" db:"response_headers"`
	ResponseBody    string    `json:"response_body" db:"response_body"`
	RequestHeaders  string    `json:"request_headers" db:"request_headers"`
	RequestBody     string    `json:"request_body" db:"request_body"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
	Notes           string    `json:"notes" db:"notes"`
	TriageStatus    string    `json:"triage_status" db:"triage_status"`
	IsDocumented    bool      `json:"is_documented" db:"is_documented"`
	Source          string    `json:"source" db:"source"`
	Recursive       bool      `json:"recursive" db:"recursive"`
	IsWorkbench     bool      `json:"is_workbench" db:"is_workbench"`
	Depth           int       `json:"depth" db:"depth"`
}

// ScanHistoryEntry is an immutable audit record of an asset's pre-overwrite
// scan state. Written only when the prior state was non-trivial.
type ScanHistoryEntry struct {
	ID              int64     `json:"id" db:"id"`
	AssetID         int64     `json:"asset_id" db:"asset_id"`
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
	StatusCode      int       `json:"status_code" db:"status_code"`
	RiskScore       int       `json:"risk_score" db:"risk_score"`
	Findings        []Finding `json:"findings" db:"-"`
	ResponseHeaders string    `json:"response_headers" db:"response_headers"`
	ResponseBody    string    `json:"response_body" db:"response_body"`
}

// ScanResult is the outcome of a single probe.
type ScanResult struct {
	Status          string    `json:"status"`
	StatusCode      int       `json:"status_code"`
	RiskScore       int       `json:"risk_score"`
	Findings        []Finding `json:"findings"`
	ResponseHeaders string    `json:"response_headers"`
	ResponseBody    string    `json:"response_body"`
	RequestHeaders  string    `json:"request_headers"`
	RequestBody     string    `json:"request_body"`
	DiscoveredURLs  []string  `json:"discovered_urls"`
}

// StagedAsset is one candidate row of a bulk import before normalization.
type StagedAsset struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	Source    string `json:"source,omitempty"`
	Recursive bool   `json:"recursive"`
}

// ImportOptions controls a staged bulk import.
type ImportOptions struct {
	SkipDuplicates bool   `json:"skip_duplicates"`
	Destination    string `json:"destination"` // "inventory" or "workbench"
}

// ImportResult summarizes a completed bulk import.
type ImportResult struct {
	ImportID   string  `json:"import_id"`
	IDs        []int64 `json:"ids"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	Duplicates int     `json:"duplicates"`
	Errors     []string `json:"errors,omitempty"`
}

// Folder groups assets for the operator's inventory view.
type Folder struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
