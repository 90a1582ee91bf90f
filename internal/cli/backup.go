package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TFMV/nestegg/internal/backup"
	"github.com/TFMV/nestegg/internal/config"
	"github.com/TFMV/nestegg/internal/helper"
	"github.com/TFMV/nestegg/internal/kube"
	"github.com/TFMV/nestegg/internal/model"
	"github.com/TFMV/nestegg/internal/transfer"
)

var (
	backupNamespaces      []string
	backupAll             bool
	backupStopOnFailure   bool
	backupParallelPreview bool
	backupWorkers         int
)

var backupCmd = &cobra.Command{
	Use:   "backup [namespace/pvc ...]",
	Short: "Run on-demand backups for selected volume claims",
	Long: `Runs the backup state machine for each selected claim, strictly one at
a time, recording every attempt in the ledger as it completes. Claims
are selected by namespace/pvc arguments, by --namespace, or with --all.`,
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

		records, err := kube.ListVolumeRecords(ctx, clients.Kube, kube.DiscoveryOptions{
			Namespaces:            backupNamespaces,
			RequestTimeoutSeconds: cfg.DiscoveryTimeoutSeconds,
			MaxNamespaceScan:      cfg.MaxNamespaceScan,
		})
		if err != nil {
			return err
		}

		selected, err := selectVolumes(records, args)
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			return fmt.Errorf("no volume claims selected; pass namespace/pvc arguments, --namespace, or --all")
		}

		var uploader transfer.Uploader
		if cfg.DestinationMode == config.DestinationRemote {
			uploader, err = transfer.NewUploader(transfer.Destination{
				Protocol:  cfg.Remote.Protocol,
				Host:      cfg.Remote.Host,
				Port:      cfg.Remote.Port,
				Username:  cfg.Remote.Username,
				Password:  cfg.Remote.Password,
				Directory: cfg.Remote.Directory,
			})
			if err != nil {
				return err
			}
		}

		pods := helper.NewClient(
			clients.Kube,
			clients.RESTConfig,
			cfg.HelperImage,
			time.Duration(cfg.HelperTimeoutSeconds)*time.Second,
		)
		manager := backup.NewManager(pods, uploader, backup.Config{
			StagingDir:      cfg.StagingDir,
			StartupRetries:  cfg.StartupRetries,
			DestinationMode: cfg.DestinationMode,
		})

		mode := backup.ModeSequential
		if backupParallelPreview {
			mode = backup.ModeParallelPreview
		}
		settings := backup.NewSettings(mode, backupWorkers, backupStopOnFailure)
		if settings.Mode == backup.ModeParallelPreview {
			color.Yellow("Parallel execution is planned and currently runs sequentially. "+
				"Requested workers=%d, effective workers=%d.",
				settings.RequestedWorkers, settings.EffectiveWorkers())
		}

		runner := backup.NewRunner(manager, store, settings)
		report, err := runner.Run(ctx, selected)
		if renderErr := renderReport(report, len(selected)); renderErr != nil {
			return renderErr
		}
		return err
	},
}

func init() {
	backupCmd.Flags().StringSliceVarP(&backupNamespaces, "namespace", "n", nil, "back up every claim in these namespaces (repeatable)")
	backupCmd.Flags().BoolVar(&backupAll, "all", false, "back up every discovered claim")
	backupCmd.Flags().BoolVar(&backupStopOnFailure, "stop-on-failure", false, "halt the batch after the first failed backup")
	backupCmd.Flags().BoolVar(&backupParallelPreview, "parallel-preview", false, "request the planned parallel mode (runs sequentially)")
	backupCmd.Flags().IntVar(&backupWorkers, "workers", 1, "requested worker count for the parallel preview")
	rootCmd.AddCommand(backupCmd)
}

// selectVolumes narrows discovered records to the requested set.
// Arguments take the form namespace/pvc and must all match.
func selectVolumes(records []model.VolumeRecord, args []string) ([]model.VolumeRecord, error) {
	if len(args) == 0 {
		if backupAll || len(backupNamespaces) > 0 {
			return records, nil
		}
		return nil, nil
	}

	byKey := make(map[string]model.VolumeRecord, len(records))
	for _, record := range records {
		byKey[record.Namespace+"/"+record.PVCName] = record
	}

	selected := make([]model.VolumeRecord, 0, len(args))
	for _, arg := range args {
		if !strings.Contains(arg, "/") {
			return nil, fmt.Errorf("invalid claim selector %q: expected namespace/pvc", arg)
		}
		record, ok := byKey[arg]
		if !ok {
			return nil, fmt.Errorf("claim %q was not found in the discovery result", arg)
		}
		selected = append(selected, record)
	}
	return selected, nil
}

func renderReport(report backup.Report, requested int) error {
	headers := []string{"NAMESPACE", "PVC", "STATUS", "BACKUP PATH", "CHECKSUM", "MESSAGE"}
	rows := make([][]string, 0, len(report.Results))
	for _, result := range report.Results {
		rows = append(rows, []string{
			result.Namespace,
			result.PVCName,
			result.Status,
			valueOr(result.BackupPath, "-"),
			shortChecksum(result.Checksum),
			valueOr(actionableMessage(result.Message), "-"),
		})
	}
	if err := NewOutputter(outputFormat).PrintTable(headers, rows); err != nil {
		return err
	}

	if report.StoppedEarly {
		color.Yellow("Stopped early after first failure: completed %d of %d selected claim(s); %d never attempted.",
			len(report.Results), requested, len(report.Skipped))
	}
	if report.FailedCount > 0 {
		color.Red("Backup run finished with failures: %d of %d claim(s) failed.",
			report.FailedCount, len(report.Results))
	} else if len(report.Results) > 0 {
		color.Green("Backup run finished successfully for %d claim(s).", len(report.Results))
	}
	return nil
}

func shortChecksum(checksum string) string {
	if checksum == "" {
		return "-"
	}
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}
