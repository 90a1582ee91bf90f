package backup

import (
	"context"

	"github.com/TFMV/nestegg/internal/logger"
	"github.com/TFMV/nestegg/internal/model"
)

// Batch execution modes. Parallel mode is a declared-but-unimplemented
// execution hint: it runs sequentially with an effective worker count of
// one, and the report says so.
const (
	ModeSequential      = "sequential"
	ModeParallelPreview = "parallel_preview"
)

// Ledger is the durable sink for results. ledger.Store is the
// production implementation.
type Ledger interface {
	RecordResult(ctx context.Context, result model.BackupResult) error
}

// Orchestrator runs one backup to a terminal result.
type Orchestrator interface {
	BackupOne(ctx context.Context, volume model.VolumeRecord) model.BackupResult
}

// Settings control one batch run.
type Settings struct {
	Mode             string
	RequestedWorkers int
	StopOnFailure    bool
}

// NewSettings normalizes batch settings. Any requested parallelism is
// preserved for display but never executed.
func NewSettings(mode string, requestedWorkers int, stopOnFailure bool) Settings {
	if mode != ModeParallelPreview {
		mode = ModeSequential
	}
	if requestedWorkers < 1 {
		requestedWorkers = 1
	}
	return Settings{
		Mode:             mode,
		RequestedWorkers: requestedWorkers,
		StopOnFailure:    stopOnFailure,
	}
}

// EffectiveWorkers is always 1: backups run strictly sequentially.
func (s Settings) EffectiveWorkers() int { return 1 }

// Report summarizes a batch run, distinguishing volumes that ran and
// failed from volumes never attempted due to an early stop.
type Report struct {
	Settings     Settings
	Results      []model.BackupResult
	Skipped      []model.VolumeRecord
	FailedCount  int
	StoppedEarly bool
}

// Runner iterates volumes sequentially through the orchestrator,
// persisting each result before moving on so partial progress survives
// a crash mid-batch.
type Runner struct {
	orchestrator Orchestrator
	ledger       Ledger
	settings     Settings
}

// NewRunner builds a batch runner.
func NewRunner(orchestrator Orchestrator, ledger Ledger, settings Settings) *Runner {
	return &Runner{
		orchestrator: orchestrator,
		ledger:       ledger,
		settings:     settings,
	}
}

// Run processes volumes in the exact order provided by the caller. A
// ledger write failure aborts the batch with the results gathered so
// far; storage errors propagate unmodified.
func (r *Runner) Run(ctx context.Context, volumes []model.VolumeRecord) (Report, error) {
	l := logger.FromContext(ctx)
	report := Report{Settings: r.settings}

	for i, volume := range volumes {
		l.Info().
			Str("namespace", volume.Namespace).
			Str("pvc", volume.PVCName).
			Int("position", i+1).
			Int("total", len(volumes)).
			Msg("starting backup")

		result := r.orchestrator.BackupOne(ctx, volume)
		if err := r.ledger.RecordResult(ctx, result); err != nil {
			logger.WithError(l, err).Error().
				Str("namespace", volume.Namespace).
				Str("pvc", volume.PVCName).
				Msg("recording backup result failed, aborting batch")
			report.Skipped = volumes[i+1:]
			return report, err
		}
		report.Results = append(report.Results, result)
		if !result.Succeeded() {
			report.FailedCount++
		}

		if r.settings.StopOnFailure && !result.Succeeded() {
			report.StoppedEarly = true
			report.Skipped = volumes[i+1:]
			l.Warn().
				Int("completed", len(report.Results)).
				Int("requested", len(volumes)).
				Msg("stopping batch after first failure")
			break
		}
	}

	return report, nil
}
