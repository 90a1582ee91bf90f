// Package transfer uploads finished archives to remote destinations.
// Each protocol is an Uploader implementation so the backup engine can be
// tested against fakes.
package transfer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Destination holds the remote endpoint parameters. Password-based
// authentication is required for every protocol.
type Destination struct {
	Protocol  string
	Host      string
	Port      int
	Username  string
	Password  string
	Directory string
}

// Uploader sends one local file to a remote destination and returns the
// artifact reference recorded in the ledger.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// NewUploader dispatches to the protocol implementation for the
// destination.
func NewUploader(dest Destination) (Uploader, error) {
	switch strings.ToLower(strings.TrimSpace(dest.Protocol)) {
	case "ftp":
		return &ftpUploader{dest: dest, tls: false}, nil
	case "ftps":
		return &ftpUploader{dest: dest, tls: true}, nil
	case "scp":
		return &scpUploader{dest: dest}, nil
	case "rsync":
		return &rsyncUploader{dest: dest}, nil
	case "s3":
		return newS3Uploader(dest)
	default:
		return nil, fmt.Errorf("unsupported remote protocol: %s", dest.Protocol)
	}
}

var slashRuns = regexp.MustCompile(`/+`)

// NormalizeDirectory collapses slash runs and anchors the directory at
// root; empty input means the root directory.
func NormalizeDirectory(value string) string {
	normalized := slashRuns.ReplaceAllString(strings.TrimSpace(value), "/")
	if normalized == "" {
		return "/"
	}
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if len(normalized) > 1 {
		normalized = strings.TrimRight(normalized, "/")
	}
	if normalized == "" {
		return "/"
	}
	return normalized
}

// ArtifactReference formats the remote reference recorded for a
// successful upload. The root directory contributes no path segment.
func ArtifactReference(protocol, host, directory, archiveName string) string {
	segment := directory
	if segment == "/" {
		segment = ""
	}
	return fmt.Sprintf("%s://%s%s/%s", protocol, host, segment, archiveName)
}

func hostPort(host string, port, fallback int) string {
	if port <= 0 {
		port = fallback
	}
	return fmt.Sprintf("%s:%d", host, port)
}
