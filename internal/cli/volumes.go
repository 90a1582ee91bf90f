package cli

import (
	"github.com/spf13/cobra"

	"github.com/TFMV/nestegg/internal/kube"
	"github.com/TFMV/nestegg/internal/model"
)

var volumesNamespaces []string

var volumesCmd = &cobra.Command{
	Use:   "volumes",
	Short: "Discover persistent volume claims and their owning workloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		clients, err := loadClients()
		if err != nil {
			return err
		}
		store, err := openLedger(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		lastSuccess, err := store.LastSuccessMap(ctx)
		if err != nil {
			return err
		}

		records, err := kube.ListVolumeRecords(ctx, clients.Kube, kube.DiscoveryOptions{
			Namespaces:            volumesNamespaces,
			RequestTimeoutSeconds: cfg.DiscoveryTimeoutSeconds,
			MaxNamespaceScan:      cfg.MaxNamespaceScan,
			LastSuccess:           lastSuccess,
		})
		if err != nil {
			return err
		}

		return printVolumeRecords(records)
	},
}

func init() {
	volumesCmd.Flags().StringSliceVarP(&volumesNamespaces, "namespace", "n", nil, "restrict discovery to these namespaces (repeatable)")
	rootCmd.AddCommand(volumesCmd)
}

func printVolumeRecords(records []model.VolumeRecord) error {
	headers := []string{"NAMESPACE", "PVC", "OWNER", "PHASE", "CAPACITY", "CLASS", "BOUND PV", "LAST SUCCESS"}
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		lastSuccess := record.LastSuccess
		if lastSuccess == "" {
			lastSuccess = "never"
		}
		rows = append(rows, []string{
			record.Namespace,
			record.PVCName,
			record.Owner.Kind + "/" + record.Owner.Name,
			record.Phase,
			valueOr(record.Capacity, "unknown"),
			valueOr(record.StorageClass, "-"),
			valueOr(record.BoundPV, "-"),
			lastSuccess,
		})
	}
	return NewOutputter(outputFormat).PrintTable(headers, rows)
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
