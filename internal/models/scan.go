package models

import "time"

// ScanType selects how a Scan is materialized into tasks by the dispatcher.
type ScanType string

const (
	ScanSingle           ScanType = "single"
	ScanRange            ScanType = "range"
	ScanGroundTruth      ScanType = "ground-truth"
	ScanRescanLoginPages ScanType = "rescan-login-pages"
	ScanTypeTask         ScanType = "task"
	ScanTypeScan         ScanType = "scan"
	ScanTypeTag          ScanType = "tag"
)

// Scan is a user-triggered request to analyze a population of domains.
// Immutable once created.
type Scan struct {
	ScanID    string    `json:"scan_id" bson:"scan_id"`
	Type      ScanType  `json:"scan_type" bson:"scan_type"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`

	// Type-specific parameters. Only the fields relevant to Type are set.
	Domain          string `json:"domain,omitempty" bson:"domain,omitempty"`
	ListID          string `json:"list_id,omitempty" bson:"list_id,omitempty"`
	Offset          int    `json:"offset,omitempty" bson:"offset,omitempty"`
	Limit           int    `json:"limit,omitempty" bson:"limit,omitempty"`
	GroundTruthID   string `json:"gt_id,omitempty" bson:"gt_id,omitempty"`
	ReferenceScanID string `json:"reference_scan_id,omitempty" bson:"reference_scan_id,omitempty"`
	TargetTaskID    string `json:"target_task_id,omitempty" bson:"target_task_id,omitempty"`
	TargetTagName   string `json:"target_tag_name,omitempty" bson:"target_tag_name,omitempty"`

	// AnalyzerName names the queue a scan's tasks are published to
	// (landscape_analysis, passkey_analysis, login_trace_analysis,
	// wildcard_receiver_analysis).
	AnalyzerName string `json:"analyzer_name" bson:"analyzer_name"`

	// ScanConfig is copied onto every task materialized from this scan.
	ScanConfig ScanConfig `json:"scan_config" bson:"scan_config"`
}

// ScanConfig carries the §6 configuration keys that apply uniformly to every
// task of a scan: browser, login-page strategy scope, idp scope, recognition
// mode, keyword/logo recognition tuning, and artifact-storage toggles.
type ScanConfig struct {
	Browser           BrowserConfig           `json:"browser" bson:"browser"`
	LoginPage         LoginPageConfig         `json:"login_page" bson:"login_page"`
	IdP               IdPConfig               `json:"idp" bson:"idp"`
	Recognition       RecognitionConfig       `json:"recognition" bson:"recognition"`
	KeywordRecognition KeywordRecognitionConfig `json:"keyword_recognition" bson:"keyword_recognition"`
	LogoRecognition   LogoRecognitionConfig   `json:"logo_recognition" bson:"logo_recognition"`
	Artifacts         ArtifactConfig          `json:"artifacts" bson:"artifacts"`
}

// ScanTag is a mutable many-to-many label from tag names to scan ids. The
// special tag "latest" is consulted when the UI asks for "latest" results
// without an explicit scan_id.
type ScanTag struct {
	TagName string          `json:"tag_name" bson:"tag_name"`
	ScanIDs map[string]bool `json:"scan_ids" bson:"scan_ids"`
}

const LatestTag = "latest"
