package models

// TopSitesEntry is one row of a ranked domain list consulted by the
// `range` scan type and by reply-handling's rank attachment (§3 Scan,
// §4.9 "range", §4.9 Reply handling step 2).
type TopSitesEntry struct {
	ListID string `json:"list_id" bson:"list_id"`
	Domain string `json:"domain" bson:"domain"`
	Rank   int    `json:"rank" bson:"rank"`
}

// GroundTruthRow is one labeled observation consulted by the
// `ground-truth` scan type (§4.9). Only rows with SSO=true,
// SSOError in {false,nil}, a non-null LoginPageURL, and a non-null IdPName
// are aggregated into tasks.
type GroundTruthRow struct {
	GroundTruthID string `json:"gt_id" bson:"gt_id"`
	Domain        string `json:"domain" bson:"domain"`
	SSO           bool   `json:"sso" bson:"sso"`
	SSOError      *bool  `json:"sso_error,omitempty" bson:"sso_error,omitempty"`
	LoginPageURL  string `json:"login_page_url,omitempty" bson:"login_page_url,omitempty"`
	IdPName       string `json:"idp_name,omitempty" bson:"idp_name,omitempty"`
}

// Usable reports whether row qualifies for ground-truth aggregation (§4.9:
// "filtering sso=true, sso_error ∈ {false,null}, login_page_url≠null,
// idp_name≠null").
func (r GroundTruthRow) Usable() bool {
	if !r.SSO {
		return false
	}
	if r.SSOError != nil && *r.SSOError {
		return false
	}
	return r.LoginPageURL != "" && r.IdPName != ""
}
