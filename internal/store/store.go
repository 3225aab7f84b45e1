// Package store defines the document-store abstraction the dispatcher uses
// to persist scans, tasks, and results (§4.9, §7 "Document store
// (abstract)"). The in-memory implementation is grounded in the teacher's
// internal/storage.MemoryStorage mutex-guarded map; the Mongo implementation
// backs it with go.mongodb.org/mongo-driver, the driver original_source's
// brain/config/mongodb.py wires the Python system to.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// ErrNotFound is returned when a lookup by ID finds nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the document-store interface (§7). Scans are immutable once
// created; tasks are mutated only via state transitions; results are
// mutated only by blob offload and duplicate pruning.
type Store interface {
	SaveScan(ctx context.Context, scan models.Scan) error
	GetScan(ctx context.Context, scanID string) (models.Scan, error)
	DeleteScan(ctx context.Context, scanID string) error

	SaveTask(ctx context.Context, task models.Task) error
	GetTask(ctx context.Context, taskID string) (models.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	ListTasksByScan(ctx context.Context, scanID string) ([]models.Task, error)
	ListStuckTasks(ctx context.Context, now time.Time, budget time.Duration) ([]models.Task, error)

	SaveResult(ctx context.Context, result models.TaskResult) error
	GetResult(ctx context.Context, taskID string) (models.TaskResult, error)
	ListResultsByScan(ctx context.Context, scanID string) ([]models.TaskResult, error)
	DeleteResult(ctx context.Context, taskID string) error

	SaveTag(ctx context.Context, tag models.ScanTag) error
	GetTag(ctx context.Context, tagName string) (models.ScanTag, error)

	// ListTopSitesRange reads [offset, offset+limit) of a ranked domain
	// list, used by the `range` scan type (§4.9). Reply handling attaches a
	// rank to a completed task through RankOf instead (§4.9 step 2).
	ListTopSitesRange(ctx context.Context, listID string, offset, limit int) ([]models.TopSitesEntry, error)
	// RankOf looks up domain's rank within listID, if known.
	RankOf(ctx context.Context, listID, domain string) (int, bool, error)

	// ListGroundTruth reads [offset, offset+limit) of a ground-truth
	// collection's rows for the `ground-truth` scan type (§4.9).
	ListGroundTruth(ctx context.Context, gtID string, offset, limit int) ([]models.GroundTruthRow, error)
}
