package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

var (
	nonDNSChars        = regexp.MustCompile(`[^a-z0-9-]`)
	dashRuns           = regexp.MustCompile(`-+`)
	nonFilesystemChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// HelperPodName derives the deterministic helper pod name for one backup
// attempt, sanitized to a DNS label.
func HelperPodName(namespace, pvcName string, now time.Time) string {
	timestamp := now.UTC().Format("20060102150405")
	base := fmt.Sprintf("nestegg-backup-%s-%s-%s", namespace, pvcName, timestamp)
	return sanitizeDNSLabel(base, 63)
}

// ArchiveName derives the archive file name for one backup attempt.
func ArchiveName(namespace, pvcName string, now time.Time) string {
	timestamp := now.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("%s__%s__%s.tar.gz",
		timestamp,
		sanitizeFilesystemComponent(namespace),
		sanitizeFilesystemComponent(pvcName))
}

// sanitizeDNSLabel lowercases, replaces invalid characters with dashes,
// collapses dash runs, and caps the length. Never returns empty.
func sanitizeDNSLabel(value string, maxLength int) string {
	normalized := nonDNSChars.ReplaceAllString(strings.ToLower(value), "-")
	normalized = dashRuns.ReplaceAllString(normalized, "-")
	normalized = strings.Trim(normalized, "-")
	if len(normalized) > maxLength {
		normalized = strings.TrimRight(normalized[:maxLength], "-")
	}
	if normalized == "" {
		return "nestegg-backup"
	}
	return normalized
}

// sanitizeFilesystemComponent keeps [a-zA-Z0-9._-], replacing the rest
// with underscores. Never returns empty.
func sanitizeFilesystemComponent(value string) string {
	sanitized := nonFilesystemChars.ReplaceAllString(value, "_")
	if sanitized == "" {
		return "unknown"
	}
	return sanitized
}

// checksumFile computes the hex SHA-256 of a whole file.
func checksumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
