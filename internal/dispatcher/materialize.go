// Package dispatcher implements the §4.9 control-plane: scan
// materialization, durable publish, reply routing with blob offload, and
// the administrative rescan/prune/tag/delete operations the out-of-scope
// HTTP API calls into. Grounded in original_source's
// brain/blueprints/api/bp_scans.py (materialization per scan type) and
// bp_tasks.py/bp_tags.py (the admin operations in admin.go).
package dispatcher

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
	"github.com/BetterCallFirewall/authlandscape/internal/store"
)

// referenceScanFetchConcurrency bounds how many reference scans'
// ListResultsByScan calls run at once when a rescan-login-pages request
// names a tag covering many scans, instead of a new limit per tag size.
const referenceScanFetchConcurrency = 4

// NewTaskID is overridable in tests; defaults to uuid.NewString.
var NewTaskID = uuid.NewString

// Materialize turns scan into the ordered list of Tasks it should emit
// (§3 Scan, §4.9 "Scan materialization"), without publishing or persisting
// them yet — Dispatch does that. An empty selection (range/ground-truth
// over nothing) returns an empty, non-error slice (§8 "Boundary
// behaviors").
func (d *Dispatcher) Materialize(ctx context.Context, scan models.Scan) ([]models.Task, error) {
	switch scan.Type {
	case models.ScanSingle:
		return []models.Task{d.newTask(scan, scan.Domain, nil, nil)}, nil

	case models.ScanRange:
		entries, err := d.Store.ListTopSitesRange(ctx, scan.ListID, scan.Offset, scan.Limit)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: materialize range scan %s: %w", scan.ScanID, err)
		}
		tasks := make([]models.Task, 0, len(entries))
		for _, entry := range entries {
			rank := entry.Rank
			tasks = append(tasks, d.newTask(scan, entry.Domain, nil, &rank))
		}
		return tasks, nil

	case models.ScanGroundTruth:
		return d.materializeGroundTruth(ctx, scan)

	case models.ScanRescanLoginPages:
		return d.materializeRescanLoginPages(ctx, scan)

	default:
		return nil, fmt.Errorf("dispatcher: materialize: unsupported scan type %q", scan.Type)
	}
}

// materializeGroundTruth aggregates ground-truth rows by domain (§4.9),
// keeping only usable rows (models.GroundTruthRow.Usable) and forcing each
// domain's login-page strategy to MANUAL with the login pages of that
// domain's rows as its candidates, idp_scope restricted to those rows' IdPs.
func (d *Dispatcher) materializeGroundTruth(ctx context.Context, scan models.Scan) ([]models.Task, error) {
	rows, err := d.Store.ListGroundTruth(ctx, scan.GroundTruthID, scan.Offset, scan.Limit)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: materialize ground-truth scan %s: %w", scan.ScanID, err)
	}

	type aggregate struct {
		candidates []string
		idps       map[string]bool
	}
	byDomain := make(map[string]*aggregate)
	var order []string
	for _, row := range rows {
		if !row.Usable() {
			continue
		}
		agg, ok := byDomain[row.Domain]
		if !ok {
			agg = &aggregate{idps: make(map[string]bool)}
			byDomain[row.Domain] = agg
			order = append(order, row.Domain)
		}
		agg.candidates = append(agg.candidates, row.LoginPageURL)
		agg.idps[row.IdPName] = true
	}

	tasks := make([]models.Task, 0, len(order))
	for _, domain := range order {
		agg := byDomain[domain]
		idpScope := make([]string, 0, len(agg.idps))
		for name := range agg.idps {
			idpScope = append(idpScope, name)
		}
		tasks = append(tasks, d.newTask(scan, domain, agg.candidates, nil, idpScope...))
	}
	return tasks, nil
}

// materializeRescanLoginPages re-emits one task per prior result in the
// reference scan (or the `latest` tag if ReferenceScanID is empty), forcing
// MANUAL candidates from each prior result's login_page_candidates (§4.9,
// §9 Open Question (a): results predating that field yield zero forced
// candidates for that domain and are skipped).
func (d *Dispatcher) materializeRescanLoginPages(ctx context.Context, scan models.Scan) ([]models.Task, error) {
	scanIDs, err := d.referenceScanIDs(ctx, scan)
	if err != nil {
		return nil, err
	}

	// Fan out the per-scan result reads, bounded, since a `latest`-tag
	// fallback can name many reference scans; each scanID's results are
	// independent of the others so the fetch needs no ordering guarantee.
	resultsByScan := make([][]models.TaskResult, len(scanIDs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(referenceScanFetchConcurrency)
	for i, scanID := range scanIDs {
		i, scanID := i, scanID
		group.Go(func() error {
			results, err := d.Store.ListResultsByScan(groupCtx, scanID)
			if err != nil {
				return fmt.Errorf("dispatcher: materialize rescan-login-pages %s: %w", scan.ScanID, err)
			}
			resultsByScan[i] = results
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var tasks []models.Task
	for _, results := range resultsByScan {
		for _, result := range results {
			if len(result.LoginPageCandidates) == 0 {
				continue
			}
			urls := make([]string, 0, len(result.LoginPageCandidates))
			for _, c := range result.LoginPageCandidates {
				urls = append(urls, c.URL)
			}
			tasks = append(tasks, d.newTask(scan, result.Domain, urls, nil))
		}
	}
	return tasks, nil
}

// referenceScanIDs resolves the scan(s) a rescan-login-pages request reads
// prior results from: an explicit ReferenceScanID, or every scan under the
// `latest` tag (§3 ScanTag, §9 Open Question (c): absent tag means "all
// scans" is the consumer's fallback — here, the dispatcher returns none,
// since scanning everything by surprise is worse than a no-op).
func (d *Dispatcher) referenceScanIDs(ctx context.Context, scan models.Scan) ([]string, error) {
	if scan.ReferenceScanID != "" {
		return []string{scan.ReferenceScanID}, nil
	}

	tag, err := d.Store.GetTag(ctx, models.LatestTag)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dispatcher: resolve latest tag: %w", err)
	}
	ids := make([]string, 0, len(tag.ScanIDs))
	for id := range tag.ScanIDs {
		ids = append(ids, id)
	}
	return ids, nil
}

// newTask builds one Task from scan, stamping a fresh task_id and
// REQUEST_SENT state (the RequestSent timestamp and actual publish happen
// in Dispatch, which owns "now").
func (d *Dispatcher) newTask(scan models.Scan, domain string, forcedCandidates []string, rank *int, idpScope ...string) models.Task {
	analyzerCfg := models.AnalyzerConfig{ForcedCandidates: forcedCandidates}
	if len(idpScope) > 0 {
		analyzerCfg.IdPScope = idpScope
	} else {
		analyzerCfg.IdPScope = scan.ScanConfig.IdP.Scope
	}

	return models.Task{
		TaskID:         NewTaskID(),
		ScanID:         scan.ScanID,
		Domain:         domain,
		State:          models.TaskRequestSent,
		ScanConfig:     scan.ScanConfig,
		AnalyzerConfig: analyzerCfg,
		AnalyzerName:   scan.AnalyzerName,
		Rank:           rank,
	}
}
