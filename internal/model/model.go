// Package model holds the data types shared between discovery, the backup
// engine, and the ledger.
package model

import "time"

// Owner identifies the workload controlling a volume claim. Kind and Name
// are "Unknown" when ownership could not be resolved; Kind takes the form
// "Multiple[...]" when distinct workloads mount the same claim.
type Owner struct {
	Kind string
	Name string
}

// VolumeRecord describes one discovered PersistentVolumeClaim, enriched
// with its resolved owner and the timestamp of its last successful backup.
// Records are ephemeral; every discovery pass rebuilds them.
type VolumeRecord struct {
	Namespace    string
	PVCName      string
	PVCUID       string
	Phase        string
	Capacity     string
	StorageClass string
	AccessModes  []string
	BoundPV      string
	Owner        Owner
	LastSuccess  string
}

// Backup terminal statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// BackupResult is the immutable outcome of one backup attempt. BackupPath
// and Checksum are empty unless the attempt succeeded end to end,
// including helper teardown.
type BackupResult struct {
	ID         int64
	Namespace  string
	PVCName    string
	PVCUID     string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	BackupPath string
	Checksum   string
	Message    string
}

// Succeeded reports whether the attempt reached terminal success.
func (r BackupResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
