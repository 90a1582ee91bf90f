package transfer

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/TFMV/nestegg/internal/logger"
)

const ftpDialTimeout = 60 * time.Second

// ftpUploader uploads over FTP, or FTPS with explicit TLS.
type ftpUploader struct {
	dest Destination
	tls  bool
}

func (u *ftpUploader) Upload(ctx context.Context, localPath string) (string, error) {
	directory := NormalizeDirectory(u.dest.Directory)
	archiveName := filepath.Base(localPath)

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(ftpDialTimeout),
	}
	if u.tls {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: u.dest.Host}))
	}

	conn, err := ftp.Dial(hostPort(u.dest.Host, u.dest.Port, 21), opts...)
	if err != nil {
		return "", fmt.Errorf("connecting to %s: %w", u.dest.Host, err)
	}
	defer conn.Quit()

	if err := conn.Login(u.dest.Username, u.dest.Password); err != nil {
		return "", fmt.Errorf("ftp login as %s: %w", u.dest.Username, err)
	}

	if err := ensureFTPDirectory(conn, directory); err != nil {
		return "", err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening archive %s: %w", localPath, err)
	}
	defer file.Close()

	if err := conn.Stor(archiveName, file); err != nil {
		return "", fmt.Errorf("storing %s: %w", archiveName, err)
	}

	protocol := "ftp"
	if u.tls {
		protocol = "ftps"
	}
	logger.FromContext(ctx).Debug().
		Str("host", u.dest.Host).
		Str("directory", directory).
		Str("archive", archiveName).
		Msg("ftp upload completed")
	return ArtifactReference(protocol, u.dest.Host, directory, archiveName), nil
}

// ensureFTPDirectory walks into the target directory, creating each
// missing component along the way.
func ensureFTPDirectory(conn *ftp.ServerConn, directory string) error {
	if err := conn.ChangeDir("/"); err != nil {
		return fmt.Errorf("changing to ftp root: %w", err)
	}
	if directory == "/" {
		return nil
	}

	for _, component := range strings.Split(strings.Trim(directory, "/"), "/") {
		if component == "" {
			continue
		}
		if err := conn.ChangeDir(component); err == nil {
			continue
		}
		if err := conn.MakeDir(component); err != nil {
			return fmt.Errorf("creating ftp directory %s: %w", component, err)
		}
		if err := conn.ChangeDir(component); err != nil {
			return fmt.Errorf("entering ftp directory %s: %w", component, err)
		}
	}
	return nil
}
