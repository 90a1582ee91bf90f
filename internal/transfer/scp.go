package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/TFMV/nestegg/internal/logger"
)

const sshDialTimeout = 30 * time.Second

// scpUploader uploads over SFTP with password authentication. Host key
// verification is skipped; the original tooling this replaces behaved
// the same way.
type scpUploader struct {
	dest Destination
}

func (u *scpUploader) Upload(ctx context.Context, localPath string) (string, error) {
	directory := NormalizeDirectory(u.dest.Directory)
	archiveName := filepath.Base(localPath)

	sshConfig := &ssh.ClientConfig{
		User:            u.dest.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(u.dest.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshDialTimeout,
	}

	sshClient, err := ssh.Dial("tcp", hostPort(u.dest.Host, u.dest.Port, 22), sshConfig)
	if err != nil {
		return "", fmt.Errorf("ssh dial %s: %w", u.dest.Host, err)
	}
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return "", fmt.Errorf("starting sftp session: %w", err)
	}
	defer client.Close()

	if err := client.MkdirAll(directory); err != nil {
		return "", fmt.Errorf("creating remote directory %s: %w", directory, err)
	}

	local, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening archive %s: %w", localPath, err)
	}
	defer local.Close()

	remotePath := path.Join(directory, archiveName)
	remote, err := client.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("creating remote file %s: %w", remotePath, err)
	}

	if _, err := io.Copy(remote, local); err != nil {
		remote.Close()
		return "", fmt.Errorf("copying to %s: %w", remotePath, err)
	}
	if err := remote.Close(); err != nil {
		return "", fmt.Errorf("finalizing %s: %w", remotePath, err)
	}

	logger.FromContext(ctx).Debug().
		Str("host", u.dest.Host).
		Str("remotePath", remotePath).
		Msg("scp upload completed")
	return ArtifactReference("scp", u.dest.Host, directory, archiveName), nil
}
