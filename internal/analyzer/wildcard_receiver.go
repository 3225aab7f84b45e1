package analyzer

import (
	"context"
	"time"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// WildcardProbeEngine extends Engine with the one additional capability the
// wildcard-receiver analyzer needs: sending a synthetic cross-origin
// message and reading back whatever the page's listeners captured.
type WildcardProbeEngine interface {
	Engine
	ProbeWildcardReceiver(ctx context.Context, pageURL string) (*models.WildcardReceiverDetection, error)
}

// WildcardReceiverOrchestrator is the §9 supplemented "wildcard-receiver"
// analyzer: it probes whether a domain's page accepts a postMessage or
// BroadcastChannel delivery regardless of origin, reusing C1's resolve
// stage and message-capture instrumentation rather than running the full
// five-stage pipeline (§9 supplemented feature 2 — "thin orchestrator
// variant reusing C1-C6, not a new detection engine").
type WildcardReceiverOrchestrator struct {
	Engine WildcardProbeEngine
	Clock  func() time.Time
}

// NewWildcardReceiver wraps engine in a WildcardReceiverOrchestrator.
func NewWildcardReceiver(engine WildcardProbeEngine) *WildcardReceiverOrchestrator {
	return &WildcardReceiverOrchestrator{Engine: engine, Clock: time.Now}
}

func (o *WildcardReceiverOrchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

// Run resolves task.Domain, then probes the resolved page for wildcard
// message acceptance. An unreachable domain short-circuits with no probe
// run, matching Orchestrator.Run's stage-1 failure behavior (§4.7/§7).
func (o *WildcardReceiverOrchestrator) Run(ctx context.Context, task models.Task) (*models.TaskResult, error) {
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
	detection, err := o.Engine.ProbeWildcardReceiver(ctx, resolved.URL)
	result.Timings.AuthAnalysisDurationSeconds = o.now().Sub(t1).Seconds()
	if err == nil {
		result.WildcardReceiver = detection
	}

	result.Timings.TotalDurationSeconds = o.now().Sub(start).Seconds()
	return result, nil
}
