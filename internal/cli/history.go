package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	retentionKeep int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent backup attempts from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openLedger(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := store.RecentResults(ctx, historyLimit)
		if err != nil {
			return err
		}

		headers := []string{"ID", "NAMESPACE", "PVC", "STATUS", "FINISHED", "BACKUP PATH", "MESSAGE"}
		rows := make([][]string, 0, len(results))
		for _, result := range results {
			rows = append(rows, []string{
				strconv.FormatInt(result.ID, 10),
				result.Namespace,
				result.PVCName,
				result.Status,
				result.FinishedAt.UTC().Format(time.RFC3339),
				valueOr(result.BackupPath, "-"),
				valueOr(actionableMessage(result.Message), "-"),
			})
		}
		return NewOutputter(outputFormat).PrintTable(headers, rows)
	},
}

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "List ledger rows eligible for deletion under a keep-N policy",
	Long: `Computes which ledger rows fall outside the N most recent attempts.
Selection only; nothing is deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openLedger(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ids, err := store.RetentionCandidateIDs(ctx, retentionKeep)
		if err != nil {
			return err
		}
		total, err := store.CountResults(ctx)
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, []string{strconv.FormatInt(id, 10)})
		}
		if err := NewOutputter(outputFormat).PrintTable([]string{"CANDIDATE ID"}, rows); err != nil {
			return err
		}
		cmd.Printf("%d of %d row(s) are retention candidates (keeping %d most recent).\n",
			len(ids), total, retentionKeep)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum rows to show")
	retentionCmd.Flags().IntVar(&retentionKeep, "keep", 50, "number of most recent rows to keep")
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(retentionCmd)
}
