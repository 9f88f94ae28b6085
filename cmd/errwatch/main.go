// Package main is the CLI entry point for errwatch.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "errwatch",
	Short: "System error monitor with Telegram alerts",
	Long: `errwatch follows the systemd journal and selected log files, picks out
error lines, and reports each distinct error once to a Telegram chat.

The chat doubles as a control channel: /pm narrows reporting to chosen
processes, /nm widens it again, and /ignore silences an error for good.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor in the foreground",
	Long: `Runs the monitor until interrupted. This is what the installed systemd
unit executes.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var ignoreCmd = &cobra.Command{
	Use:   "ignore",
	Short: "Manage the ignore list",
	Long: `Reads and edits the ignore list file used by the monitor.
Changes made here take effect the next time the monitor starts.`,
}

var ignoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ignored fingerprints",
	Args:  cobra.NoArgs,
	RunE:  runIgnoreList,
}

var ignoreAddCmd = &cobra.Command{
	Use:   "add #ID...",
	Short: "Ignore one or more fingerprints",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIgnoreAdd,
}

var ignoreRemoveCmd = &cobra.Command{
	Use:   "remove #ID...",
	Short: "Stop ignoring one or more fingerprints",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIgnoreRemove,
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify log lines read from stdin",
	Long: `Reads log lines from stdin and prints "#FP process message" for every
line the monitor would treat as an error. Useful for tuning PATTERNS_FILE:

  journalctl -p err --since today -o short | errwatch classify

Leading syslog timestamps and host names are dropped before matching, so
the printed fingerprints are the ones the monitor reports.
--list-patterns prints the active patterns in match order instead.`,
	Args: cobra.NoArgs,
	RunE: runClassify,
}

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted credential store",
}

var secretsSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Store a credential (telegram_bot_token, telegram_chat_id)",
	Args:  cobra.ExactArgs(2),
	RunE:  runSecretsSet,
}

var secretsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored credentials (masked)",
	Args:  cobra.NoArgs,
	RunE:  runSecretsShow,
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Remove a stored credential or the saved command cursor",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretsDelete,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the systemd unit",
	Long: `Writes a systemd unit running "errwatch run" and enables it.
As root the unit is a system service; otherwise a user service.`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the systemd unit",
	Args:  cobra.NoArgs,
	RunE:  runUninstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath   string
	dataDir      string
	patternsPath string
	listPatterns bool
	jsonOutput   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (tried before the default locations)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "state directory (default depends on user/system mode)")
	classifyCmd.Flags().StringVar(&patternsPath, "patterns", "", "pattern file (overrides PATTERNS_FILE)")
	classifyCmd.Flags().BoolVar(&listPatterns, "list-patterns", false, "print the active patterns and exit")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	ignoreCmd.AddCommand(ignoreListCmd, ignoreAddCmd, ignoreRemoveCmd)
	secretsCmd.AddCommand(secretsSetCmd, secretsShowCmd, secretsDeleteCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(ignoreCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(secretsCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(versionCmd)
}
