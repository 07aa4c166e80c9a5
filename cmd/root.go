package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// VERSION is set during build
	VERSION string
)

var (
	cfgFile string
	verbose bool
	timeout time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zippeek",
	Short: "CLI tool to read files out of remote zip archives without downloading the entire archive",
	Long: `The zippeek CLI lists and extracts members of zip archives served over
	HTTP(S), fetching only the central directory and the members you ask for
	via range requests.

	example:

		zippeek list -u https://example.com/archive.zip
		zippeek extract -u https://example.com/archive.zip -f plan.txt
		zippeek toplevel requests 'urllib3<2'`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(version string) {
	VERSION = version
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.zippeek.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout for a command (0 disables it)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".zippeek" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".zippeek")
	}

	viper.SetEnvPrefix("zippeek")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in. Stderr keeps stdout clean for
	// commands that emit JSON.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// commandContext returns the context commands run under, honoring the
// --timeout flag.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), timeout)
}
