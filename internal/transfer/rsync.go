package transfer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/TFMV/nestegg/internal/logger"
)

const sshOptions = "-o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null"

// rsyncUploader shells out to rsync over password-authenticated ssh via
// sshpass. Both binaries must be on PATH.
type rsyncUploader struct {
	dest Destination
}

func (u *rsyncUploader) Upload(ctx context.Context, localPath string) (string, error) {
	directory := NormalizeDirectory(u.dest.Directory)
	archiveName := filepath.Base(localPath)
	remoteTarget := fmt.Sprintf("%s@%s:%s/%s", u.dest.Username, u.dest.Host, directory, archiveName)

	rsyncBinary, err := exec.LookPath("rsync")
	if err != nil {
		return "", fmt.Errorf("rsync is required for rsync remote uploads but was not found in PATH")
	}
	sshBinary, err := exec.LookPath("ssh")
	if err != nil {
		return "", fmt.Errorf("ssh is required for rsync remote uploads but was not found in PATH")
	}

	sshCommand := "ssh " + sshOptions
	mkdirArgs := strings.Fields(sshOptions)
	if u.dest.Port > 0 {
		sshCommand = fmt.Sprintf("%s -p %d", sshCommand, u.dest.Port)
		mkdirArgs = append(mkdirArgs, "-p", fmt.Sprintf("%d", u.dest.Port))
	}

	// Intermediate remote directories first; rsync does not create them.
	mkdirArgs = append(mkdirArgs,
		fmt.Sprintf("%s@%s", u.dest.Username, u.dest.Host),
		fmt.Sprintf("mkdir -p %q", directory),
	)
	if err := u.runWithPassword(ctx, sshBinary, mkdirArgs); err != nil {
		return "", err
	}

	rsyncArgs := []string{
		"-az",
		"-e", sshCommand,
		localPath,
		remoteTarget,
	}
	if err := u.runWithPassword(ctx, rsyncBinary, rsyncArgs); err != nil {
		return "", err
	}

	logger.FromContext(ctx).Debug().
		Str("host", u.dest.Host).
		Str("target", remoteTarget).
		Msg("rsync upload completed")
	return ArtifactReference("rsync", u.dest.Host, directory, archiveName), nil
}

// runWithPassword wraps a command in sshpass, passing the password
// through the environment rather than argv.
func (u *rsyncUploader) runWithPassword(ctx context.Context, binary string, args []string) error {
	sshpassBinary, err := exec.LookPath("sshpass")
	if err != nil {
		return fmt.Errorf("sshpass is required for password-based rsync uploads but was not found in PATH")
	}

	cmd := exec.CommandContext(ctx, sshpassBinary, append([]string{"-e", binary}, args...)...)
	cmd.Env = append(os.Environ(), "SSHPASS="+u.dest.Password)

	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = "remote transfer command failed"
		}
		return fmt.Errorf("%s: %s", filepath.Base(binary), detail)
	}
	return nil
}
