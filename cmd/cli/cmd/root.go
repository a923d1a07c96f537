package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "deskctl",
	Short: "Deskctl is a command line tool for the deskforge document pipeline",
	Long: `deskctl is the command-line interface for deskforge, an asynchronous
engine that turns a spreadsheet plus a natural-language instruction into
transformed files, analyses and reports.

Common workflows:

  Transform a spreadsheet:
    deskctl submit --kind spreadsheet-transform --prompt "sum revenue per region" sales.xlsx

  Analyze a dataset:
    deskctl submit --kind analytics --prompt "plot weekly signups" signups.csv

  Compose a report from several files:
    deskctl submit --kind report --title "Q3 Review" --template monthly q3-*.csv

  Track a job until it finishes:
    deskctl status <job-id> --watch

  Fetch the results:
    deskctl artifacts <job-id>
    deskctl download <job-id> output.xlsx

Configuration:
  Set the API endpoint via a flag, environment variable or config file:
    DESKFORGE_URL    API endpoint (default: http://localhost:8080)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".deskctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".deskctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DESKFORGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.deskctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "Deskforge API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
