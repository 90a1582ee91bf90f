// Package backup drives the per-volume backup state machine: helper pod
// provisioning, in-pod archiving, retrieval, verification, optional
// remote upload, and unconditional teardown.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TFMV/nestegg/internal/helper"
	"github.com/TFMV/nestegg/internal/logger"
	"github.com/TFMV/nestegg/internal/metrics"
	"github.com/TFMV/nestegg/internal/model"
	"github.com/TFMV/nestegg/internal/retry"
	"github.com/TFMV/nestegg/internal/transfer"
)

// Destination modes.
const (
	DestinationLocal  = "local"
	DestinationRemote = "remote"
)

// PodLifecycle is the helper-process collaborator consumed by the
// orchestrator. helper.Client is the production implementation.
type PodLifecycle interface {
	Create(ctx context.Context, namespace, podName, claimName string) error
	WaitRunning(ctx context.Context, namespace, podName string) error
	Exec(ctx context.Context, namespace, podName string, command []string) error
	CopyFile(ctx context.Context, namespace, podName, remotePath, localPath string) error
	Delete(ctx context.Context, namespace, podName string) error
}

// Config tunes one Manager.
type Config struct {
	// StagingDir receives retrieved archives before optional upload.
	StagingDir string
	// StartupRetries is the number of create+wait retries after the
	// first attempt.
	StartupRetries int
	// DestinationMode is local or remote.
	DestinationMode string
	// RetryDelay separates startup attempts.
	RetryDelay time.Duration
}

// Manager runs backups one volume at a time. It is not safe for
// concurrent use; sequential scheduling is the concurrency model.
type Manager struct {
	pods     PodLifecycle
	uploader transfer.Uploader
	config   Config
	now      func() time.Time
}

// NewManager builds a Manager. uploader may be nil for local-mode
// destinations.
func NewManager(pods PodLifecycle, uploader transfer.Uploader, config Config) *Manager {
	if config.RetryDelay <= 0 {
		config.RetryDelay = 1 * time.Second
	}
	return &Manager{
		pods:     pods,
		uploader: uploader,
		config:   config,
		now:      time.Now,
	}
}

// BackupOne runs the full state machine for one volume and returns a
// terminal result. Stage failures and unexpected errors become the
// result message; they are never returned. Helper teardown runs on
// every exit path, and a teardown failure downgrades an otherwise
// successful run.
func (m *Manager) BackupOne(ctx context.Context, volume model.VolumeRecord) model.BackupResult {
	startedAt := m.now().UTC().Truncate(time.Second)
	podName := HelperPodName(volume.Namespace, volume.PVCName, startedAt)
	archiveName := ArchiveName(volume.Namespace, volume.PVCName, startedAt)
	localPath := filepath.Join(m.config.StagingDir, archiveName)
	remotePath := "/tmp/" + archiveName

	l := logger.FromContext(ctx).With().
		Str("namespace", volume.Namespace).
		Str("pvc", volume.PVCName).
		Str("helper", podName).
		Logger()
	ctx = logger.WithContext(ctx, &l)

	status := model.StatusFailed
	backupPath := ""
	checksum := ""
	message := ""

	runErr := m.runStages(ctx, volume, podName, remotePath, localPath, &backupPath, &checksum)
	if runErr == nil {
		status = model.StatusSuccess
	} else {
		var stageErr *StageError
		if errors.As(runErr, &stageErr) {
			message = stageErr.Error()
			metrics.RecordStageFailure(stageErr.Stage)
		} else {
			message = fmt.Sprintf("unexpected backup failure: %s", errMessage(runErr))
		}
	}

	// Teardown always runs; its failure is never silently swallowed.
	if cleanupErr := m.pods.Delete(ctx, volume.Namespace, podName); cleanupErr != nil {
		cleanupMessage := (&StageError{Stage: StageCleanup, Reason: errMessage(cleanupErr)}).Error()
		if message != "" {
			message = message + "; " + cleanupMessage
		} else {
			message = cleanupMessage
		}
		metrics.RecordStageFailure(StageCleanup)
		if status == model.StatusSuccess {
			status = model.StatusFailed
			backupPath = ""
			checksum = ""
		}
	}

	finishedAt := m.now().UTC().Truncate(time.Second)
	metrics.RecordBackup(status, finishedAt.Sub(startedAt).Seconds())

	if status == model.StatusSuccess {
		l.Info().Str("backupPath", backupPath).Msg("backup completed")
	} else {
		l.Warn().Str("message", message).Msg("backup failed")
	}

	return model.BackupResult{
		Namespace:  volume.Namespace,
		PVCName:    volume.PVCName,
		PVCUID:     volume.PVCUID,
		Status:     status,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		BackupPath: backupPath,
		Checksum:   checksum,
		Message:    message,
	}
}

func (m *Manager) runStages(
	ctx context.Context,
	volume model.VolumeRecord,
	podName, remotePath, localPath string,
	backupPath, checksum *string,
) error {
	if err := m.startupHelper(ctx, volume, podName); err != nil {
		return err
	}

	archiveCommand := []string{"sh", "-c", fmt.Sprintf("tar -czf %s -C %s .", remotePath, helper.MountPath)}
	if err := m.pods.Exec(ctx, volume.Namespace, podName, archiveCommand); err != nil {
		return newStageError(StageExec, err)
	}

	if err := os.MkdirAll(m.config.StagingDir, 0o755); err != nil {
		return newStageError(StageCopy, fmt.Errorf("creating staging directory: %w", err))
	}
	if err := m.pods.CopyFile(ctx, volume.Namespace, podName, remotePath, localPath); err != nil {
		return newStageError(StageCopy, err)
	}

	sum, err := m.verifyArchive(localPath)
	if err != nil {
		return newStageError(StageChecksum, err)
	}
	*checksum = sum

	if m.config.DestinationMode == DestinationRemote {
		if m.uploader == nil {
			return &StageError{Stage: StageRemote, Reason: "remote destination configuration is missing"}
		}
		reference, err := m.uploader.Upload(ctx, localPath)
		if err != nil {
			return newStageError(StageRemote, err)
		}
		os.Remove(localPath)
		*backupPath = reference
		return nil
	}

	*backupPath = localPath
	return nil
}

// startupHelper retries the create+wait unit on classified-retryable
// failures, deleting any partially-created helper between attempts.
func (m *Manager) startupHelper(ctx context.Context, volume model.VolumeRecord, podName string) error {
	stage := StageCreate
	op := func(ctx context.Context) error {
		stage = StageCreate
		if err := m.pods.Create(ctx, volume.Namespace, podName, volume.PVCName); err != nil {
			return err
		}
		stage = StageWait
		return m.pods.WaitRunning(ctx, volume.Namespace, podName)
	}

	cfg := retry.DefaultConfig.
		WithMaxRetries(m.config.StartupRetries).
		WithDelay(m.config.RetryDelay).
		WithRetryable(retryableStartup).
		WithOnRetry(func(ctx context.Context, err error) {
			// Best-effort: a failed attempt may have left a pod behind.
			_ = m.pods.Delete(ctx, volume.Namespace, podName)
		})

	attempts, err := retry.Do(ctx, op, cfg)
	if err == nil {
		return nil
	}

	reason := errMessage(err)
	if attempts > 1 && retryableStartup(err) {
		reason = fmt.Sprintf("%s (after %d attempts)", reason, attempts)
	}
	return &StageError{Stage: stage, Reason: reason}
}

func (m *Manager) verifyArchive(localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("archive not found at %s", localPath)
		}
		return "", err
	}
	if info.Size() <= 0 {
		return "", fmt.Errorf("archive is empty at %s", localPath)
	}
	return checksumFile(localPath)
}
