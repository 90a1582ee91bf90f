package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TFMV/nestegg/internal/kube"
)

var contextsCmd = &cobra.Command{
	Use:   "contexts",
	Short: "List contexts available in the kubeconfig",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := kube.ListContextNames(kubeconfigPath)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			rows = append(rows, []string{name})
		}
		return NewOutputter(outputFormat).PrintTable([]string{"CONTEXT"}, rows)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show coarse cluster inventory counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		clients, err := loadClients()
		if err != nil {
			return err
		}
		summary, err := kube.ClusterSummary(cmd.Context(), clients.Kube)
		if err != nil {
			return err
		}
		return NewOutputter(outputFormat).PrintTable(
			[]string{"NAMESPACES", "PODS", "PVCS"},
			[][]string{{
				strconv.Itoa(summary.Namespaces),
				strconv.Itoa(summary.Pods),
				strconv.Itoa(summary.PersistentVolumeClaims),
			}},
		)
	},
}

func init() {
	rootCmd.AddCommand(contextsCmd)
	rootCmd.AddCommand(summaryCmd)
}
