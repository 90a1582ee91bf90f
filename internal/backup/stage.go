package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/TFMV/nestegg/internal/helper"
)

// Stage names form the expected failure vocabulary of a backup attempt.
const (
	StageCreate   = "create"
	StageWait     = "wait"
	StageExec     = "exec"
	StageCopy     = "copy"
	StageChecksum = "checksum"
	StageRemote   = "remote"
	StageCleanup  = "cleanup"
)

// StageError classifies a failure against one named step of the backup
// state machine. Stage errors never escape BackupOne; they become the
// result message.
type StageError struct {
	Stage  string
	Reason string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %s", e.Stage, e.Reason)
}

func newStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Reason: errMessage(err)}
}

// retryableStartup decides whether a helper startup failure is worth
// another create+wait attempt. Client errors (4xx) are permanent;
// timeouts and server-side or transport failures are transient.
func retryableStartup(err error) bool {
	var waitTimeout *helper.WaitTimeoutError
	if errors.As(err, &waitTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if apierrors.IsBadRequest(err) ||
		apierrors.IsUnauthorized(err) ||
		apierrors.IsForbidden(err) ||
		apierrors.IsNotFound(err) ||
		apierrors.IsInvalid(err) {
		return false
	}
	// Permissive fallback: unclassified failures get the retry.
	return true
}

func errMessage(err error) string {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "unknown error"
	}
	return message
}
