// Command crmctl fetches the company list from a running crm-proxy, keeps a
// local snapshot of the last result, and validates webhook URLs.
package main

import (
	"os"
	"path/filepath"

	"github.com/Sternrassler/crm-company-cache/pkg/logging"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	serverURL string
	cacheDir  string
	noColor   bool
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:           "crmctl",
	Short:         "Command-line client for crm-proxy",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelWarn
		if verbose {
			level = logging.LevelDebug
		}
		logging.Setup(logging.Config{
			Level:  level,
			Pretty: true,
			Output: os.Stderr,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CRM_PROXY_URL", "http://127.0.0.1:8080"), "crm-proxy base URL")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", defaultCacheDir(), "directory for the local snapshot")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")

	rootCmd.AddCommand(fetchCmd, validateCmd, cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "crmctl")
}
