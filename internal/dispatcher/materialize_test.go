package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
	"github.com/BetterCallFirewall/authlandscape/internal/store"
)

func TestMaterializeGroundTruthAggregatesByDomainAndSkipsUnusableRows(t *testing.T) {
	mem := store.NewMemoryStore()
	d := &Dispatcher{Store: mem}

	mem.SeedGroundTruth("gt-1", []models.GroundTruthRow{
		{GroundTruthID: "gt-1", Domain: "a.com", SSO: true, LoginPageURL: "https://a.com/login", IdPName: "Google"},
		{GroundTruthID: "gt-1", Domain: "a.com", SSO: true, LoginPageURL: "https://a.com/signin", IdPName: "Microsoft"},
		{GroundTruthID: "gt-1", Domain: "b.com", SSO: true, LoginPageURL: "https://b.com/login", IdPName: "Okta"},
		{GroundTruthID: "gt-1", Domain: "c.com", SSO: false, LoginPageURL: "https://c.com/login", IdPName: "Ping"},
	})

	scan := models.Scan{ScanID: "scan-gt", Type: models.ScanGroundTruth, GroundTruthID: "gt-1"}
	tasks, err := d.Materialize(context.Background(), scan)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	byDomain := make(map[string]models.Task)
	for _, task := range tasks {
		byDomain[task.Domain] = task
	}

	a := byDomain["a.com"]
	assert.ElementsMatch(t, []string{"https://a.com/login", "https://a.com/signin"}, a.AnalyzerConfig.ForcedCandidates)
	assert.ElementsMatch(t, []string{"Google", "Microsoft"}, a.AnalyzerConfig.IdPScope)

	b := byDomain["b.com"]
	assert.Equal(t, []string{"https://b.com/login"}, b.AnalyzerConfig.ForcedCandidates)
}

func TestMaterializeGroundTruthSkipsRowsWithSSOErrorTrue(t *testing.T) {
	mem := store.NewMemoryStore()
	d := &Dispatcher{Store: mem}

	yes := true
	mem.SeedGroundTruth("gt-2", []models.GroundTruthRow{
		{GroundTruthID: "gt-2", Domain: "broken.com", SSO: true, SSOError: &yes, LoginPageURL: "https://broken.com/login"},
	})

	scan := models.Scan{ScanID: "scan-gt2", Type: models.ScanGroundTruth, GroundTruthID: "gt-2"}
	tasks, err := d.Materialize(context.Background(), scan)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestMaterializeRescanLoginPagesUsesExplicitReferenceScan(t *testing.T) {
	mem := store.NewMemoryStore()
	d := &Dispatcher{Store: mem}
	ctx := context.Background()

	priorTask := models.Task{TaskID: "prior-1", ScanID: "scan-prior", Domain: "c.com"}
	require.NoError(t, mem.SaveTask(ctx, priorTask))
	require.NoError(t, mem.SaveResult(ctx, models.TaskResult{
		TaskID: "prior-1",
		ScanID: "scan-prior",
		Domain: "c.com",
		LoginPageCandidates: []models.LoginPageCandidate{
			{URL: "https://c.com/login"},
		},
	}))

	scan := models.Scan{ScanID: "scan-rescan", Type: models.ScanRescanLoginPages, ReferenceScanID: "scan-prior"}
	tasks, err := d.Materialize(ctx, scan)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "c.com", tasks[0].Domain)
	assert.Equal(t, []string{"https://c.com/login"}, tasks[0].AnalyzerConfig.ForcedCandidates)
}

func TestMaterializeRescanLoginPagesSkipsResultsWithNoCandidates(t *testing.T) {
	mem := store.NewMemoryStore()
	d := &Dispatcher{Store: mem}
	ctx := context.Background()

	require.NoError(t, mem.SaveTask(ctx, models.Task{TaskID: "prior-2", ScanID: "scan-prior", Domain: "d.com"}))
	require.NoError(t, mem.SaveResult(ctx, models.TaskResult{TaskID: "prior-2", ScanID: "scan-prior", Domain: "d.com"}))

	scan := models.Scan{ScanID: "scan-rescan-2", Type: models.ScanRescanLoginPages, ReferenceScanID: "scan-prior"}
	tasks, err := d.Materialize(ctx, scan)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestMaterializeRescanLoginPagesFallsBackToLatestTag(t *testing.T) {
	mem := store.NewMemoryStore()
	d := &Dispatcher{Store: mem}
	ctx := context.Background()

	require.NoError(t, mem.SaveTask(ctx, models.Task{TaskID: "prior-3", ScanID: "scan-tagged", Domain: "e.com"}))
	require.NoError(t, mem.SaveResult(ctx, models.TaskResult{
		TaskID: "prior-3",
		ScanID: "scan-tagged",
		Domain: "e.com",
		LoginPageCandidates: []models.LoginPageCandidate{{URL: "https://e.com/login"}},
	}))
	require.NoError(t, mem.SaveTag(ctx, models.ScanTag{TagName: models.LatestTag, ScanIDs: map[string]bool{"scan-tagged": true}}))

	scan := models.Scan{ScanID: "scan-rescan-3", Type: models.ScanRescanLoginPages}
	tasks, err := d.Materialize(ctx, scan)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "e.com", tasks[0].Domain)
}

func TestMaterializeRescanLoginPagesWithoutTagOrReferenceReturnsEmpty(t *testing.T) {
	mem := store.NewMemoryStore()
	d := &Dispatcher{Store: mem}

	scan := models.Scan{ScanID: "scan-rescan-4", Type: models.ScanRescanLoginPages}
	tasks, err := d.Materialize(context.Background(), scan)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestMaterializeUnsupportedScanTypeErrors(t *testing.T) {
	mem := store.NewMemoryStore()
	d := &Dispatcher{Store: mem}

	scan := models.Scan{ScanID: "scan-bad", Type: models.ScanType("unknown")}
	_, err := d.Materialize(context.Background(), scan)
	assert.Error(t, err)
}
