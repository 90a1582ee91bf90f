package cli

import "strings"

// stageHints maps failure-message prefixes to remediation hints shown
// alongside failed results. The hints live at the presentation layer;
// the backup engine only reports the stage and reason.
var stageHints = []struct {
	match string
	hint  string
}{
	{"create stage failed", "Verify RBAC allows helper pod creation and the helper image can be pulled."},
	{"wait stage failed", "Inspect pod events and consider increasing the helper timeout for slow nodes."},
	{"exec stage failed", "Confirm the helper image has shell and tar available and the PVC mount is readable."},
	{"copy stage failed", "Check API connectivity and ensure the kubeconfig/context points to this cluster."},
	{"remote stage failed", "Validate remote protocol, host, credentials, and directory permissions."},
	{"checksum stage failed", "Validate the local staging directory is writable and archive generation completed."},
	{"cleanup stage failed", "Review permissions to delete helper pods in the namespace after backup."},
	{"unexpected backup failure", "Inspect Kubernetes events and application logs for this PVC backup attempt."},
}

// actionableMessage appends the first matching remediation hint to a
// failure message.
func actionableMessage(message string) string {
	if message == "" {
		return ""
	}
	for _, entry := range stageHints {
		if strings.Contains(message, entry.match) {
			return message + " Hint: " + entry.hint
		}
	}
	return message
}
