// Package cli implements the nestegg command tree.
package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/nestegg/internal/config"
	"github.com/TFMV/nestegg/internal/kube"
	"github.com/TFMV/nestegg/internal/ledger"
)

var (
	cfgFile        string
	kubeconfigPath string
	contextName    string
	inCluster      bool
	outputFormat   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nestegg",
	Short: "Discover Kubernetes volume claims and run on-demand content backups",
	Long: `nestegg discovers persistent volume claims across a cluster, maps each
to its owning workload, and performs on-demand tar backups through a
short-lived read-only helper pod, recording every attempt durably.`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the command tree. Interrupts cancel the command context
// so in-flight exec streams and uploads shut down cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		color.Red("%v", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.nestegg/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&kubeconfigPath, "kubeconfig", "", "path to the kubeconfig file")
	rootCmd.PersistentFlags().StringVar(&contextName, "context", "", "kubeconfig context to use")
	rootCmd.PersistentFlags().BoolVar(&inCluster, "in-cluster", false, "use in-cluster service account credentials")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table|json|yaml|csv)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home + "/.nestegg")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("NESTEGG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())
	_ = viper.ReadInConfig()
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// loadClients builds cluster clients. Inline kubeconfig content (set via
// NESTEGG_KUBECONFIG_CONTENT or the kubeconfig_content key) takes
// precedence over a kubeconfig path; it is persisted to a private temp
// file for the lifetime of the command.
func loadClients() (*kube.Clients, error) {
	path := kubeconfigPath
	if content := viper.GetString("kubeconfig_content"); content != "" {
		persisted, err := kube.PersistKubeconfigContent(content)
		if err != nil {
			return nil, err
		}
		path = persisted
	}
	return kube.LoadClients(path, contextName, inCluster)
}

func openLedger(ctx context.Context, cfg *config.Config) (*ledger.Store, error) {
	store, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
