// Package analyzer implements the §4.7 per-task orchestrator: five stages
// (resolve, login-page discovery, authentication analysis, IdP detection,
// metadata probing) stitched together with per-stage timings, wrapping
// C1-C6. Grounded in original_source's landscape-worker/modules/analyzers
// orchestration shape (one top-level driver calling each detector family
// in sequence and writing results into a shared result dict).
package analyzer

import (
	"context"
	"time"

	"github.com/BetterCallFirewall/authlandscape/internal/idp"
	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// Engine performs the browser/network-driven work of each stage. The
// production implementation (BrowserEngine) wires C1 (browser), C3
// (loginpage), C4 (idp), C5 (passkey), and C6 (authdetect); tests use a
// fake to exercise the orchestrator's sequencing and result assembly in
// isolation.
type Engine interface {
	Resolve(ctx context.Context, domain string) (models.ResolveResult, error)
	DiscoverLoginPages(ctx context.Context, resolved models.ResolveResult, cfg models.LoginPageConfig, forced []string) ([]models.LoginPageCandidate, error)
	// AnalyzeAuth navigates to candidate and returns both the navigation
	// outcome (recorded onto the candidate as its resolved field, §4.7 stage
	// 3) and the auth mechanisms found there.
	AnalyzeAuth(ctx context.Context, candidate models.LoginPageCandidate) (models.ResolveResult, models.PasswordDetection, models.MFADetection, models.PasskeyDetection, error)
	DetectIdPs(ctx context.Context, candidate models.LoginPageCandidate, idpScope []string, recognition models.RecognitionConfig) ([]models.IdentityProviderDetection, error)
	ProbeMetadata(ctx context.Context, origin string) (map[models.WellKnownEndpoint]bool, map[models.WellKnownEndpoint]any, error)
}

// Orchestrator runs Engine's stages for one task and assembles a
// TaskResult (§4.7). Clock is overridable in tests; defaults to
// time.Now.
type Orchestrator struct {
	Engine Engine
	Clock  func() time.Time
}

func New(engine Engine) *Orchestrator {
	return &Orchestrator{Engine: engine, Clock: time.Now}
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

// Run executes all five stages for task and returns the assembled
// TaskResult. A stage-1 resolve failure short-circuits the remaining
// stages and the result carries Resolved.Reachable=false with no further
// data, per §4.7/§7 ("errors localize to the failing stage").
func (o *Orchestrator) Run(ctx context.Context, task models.Task) (*models.TaskResult, error) {
	result := &models.TaskResult{
		TaskID: task.TaskID,
		ScanID: task.ScanID,
		Domain: task.Domain,
	}
	start := o.now()

	t0 := o.now()
	resolved, err := o.Engine.Resolve(ctx, task.Domain)
	result.Timings.ResolveDurationSeconds = o.now().Sub(t0).Seconds()
	if err != nil {
		result.Exception = err.Error()
		result.Timings.TotalDurationSeconds = o.now().Sub(start).Seconds()
		return result, nil
	}
	result.Resolved = resolved
	if !resolved.Reachable {
		result.Timings.TotalDurationSeconds = o.now().Sub(start).Seconds()
		return result, nil
	}

	t1 := o.now()
	candidates, err := o.Engine.DiscoverLoginPages(ctx, resolved, task.ScanConfig.LoginPage, task.AnalyzerConfig.ForcedCandidates)
	result.Timings.LoginPageDurationSeconds = o.now().Sub(t1).Seconds()
	if err != nil {
		result.Exception = err.Error()
		result.Timings.TotalDurationSeconds = o.now().Sub(start).Seconds()
		return result, nil
	}
	result.LoginPageCandidates = candidates

	t2 := o.now()
	for i := range candidates {
		resolved, pw, mfa, pk, err := o.Engine.AnalyzeAuth(ctx, candidates[i])
		candidates[i].Resolved = &resolved
		if err != nil {
			continue
		}
		if pw.Detected {
			result.AuthenticationMechanisms.Password = append(result.AuthenticationMechanisms.Password, pw)
		}
		if mfa.Detected {
			result.AuthenticationMechanisms.MFA = append(result.AuthenticationMechanisms.MFA, mfa)
		}
		if pk.Detected {
			result.AuthenticationMechanisms.Passkey = append(result.AuthenticationMechanisms.Passkey, pk)
		}
	}
	result.Timings.AuthAnalysisDurationSeconds = o.now().Sub(t2).Seconds()

	// Only candidates AnalyzeAuth actually reached are checked for IdPs
	// (§4.7 stage 4: "runs IdP detection only over reachable candidates").
	var reachable []models.LoginPageCandidate
	for _, candidate := range candidates {
		if candidate.Resolved != nil && candidate.Resolved.Reachable {
			reachable = append(reachable, candidate)
		}
	}

	t3 := o.now()
	detections, _, _ := idp.ScanCandidates(task.ScanConfig.Recognition.Mode, reachable, func(candidate models.LoginPageCandidate) ([]models.IdentityProviderDetection, error) {
		return o.Engine.DetectIdPs(ctx, candidate, task.AnalyzerConfig.IdPScope, task.ScanConfig.Recognition)
	})
	result.IdentityProviders = append(result.IdentityProviders, detections...)
	result.Timings.IdPDurationSeconds = o.now().Sub(t3).Seconds()

	t4 := o.now()
	available, data, err := o.Engine.ProbeMetadata(ctx, resolved.URL)
	result.Timings.MetadataDurationSeconds = o.now().Sub(t4).Seconds()
	if err == nil {
		result.MetadataAvailable = available
		result.MetadataData = data
	}

	result.Timings.TotalDurationSeconds = o.now().Sub(start).Seconds()
	return result, nil
}
