package analyzer

import (
	"context"
	"errors"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// ErrNoKnownLoginPages is returned by LoginTraceOrchestrator.Run when the
// task carries no forced candidates to re-run authentication analysis
// against.
var ErrNoKnownLoginPages = errors.New("analyzer: login-trace task has no forced candidates")

// LoginTraceOrchestrator is the §9 supplemented "login-trace" analyzer: it
// reruns stages 3-5 (auth analysis, IdP detection, metadata) against a
// scan's already-known login pages instead of re-discovering them, mirroring
// the rescan-login-pages scan type's materialization (§4.9). It is a thin
// wrapper over Orchestrator rather than a new detection engine: forcing
// task.AnalyzerConfig.ForcedCandidates already makes
// BrowserEngine.DiscoverLoginPages skip discovery and return exactly those
// URLs (engine.go), so login-trace only needs to validate the precondition
// before delegating.
type LoginTraceOrchestrator struct {
	*Orchestrator
}

// NewLoginTrace wraps engine in a LoginTraceOrchestrator.
func NewLoginTrace(engine Engine) *LoginTraceOrchestrator {
	return &LoginTraceOrchestrator{Orchestrator: New(engine)}
}

// Run validates that task names known login pages, then delegates to
// Orchestrator.Run unchanged.
func (o *LoginTraceOrchestrator) Run(ctx context.Context, task models.Task) (*models.TaskResult, error) {
	if len(task.AnalyzerConfig.ForcedCandidates) == 0 {
		result := &models.TaskResult{
			TaskID:    task.TaskID,
			ScanID:    task.ScanID,
			Domain:    task.Domain,
			Exception: ErrNoKnownLoginPages.Error(),
		}
		return result, nil
	}
	return o.Orchestrator.Run(ctx, task)
}
