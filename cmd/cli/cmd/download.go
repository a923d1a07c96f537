package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var downloadOutput string

var downloadCmd = &cobra.Command{
	Use:   "download [job_id] [artifact]",
	Short: "Download one artifact of a job",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewJobClient(viper.GetString("url"))
		jobID, name := args[0], args[1]

		dest := downloadOutput
		if dest == "" {
			dest = filepath.Base(name)
		}
		f, err := os.Create(dest)
		if err != nil {
			cmd.Printf("Failed to create %s: %v\n", dest, err)
			return
		}

		n, err := client.DownloadArtifact(jobID, name, f)
		f.Close()
		if err != nil {
			os.Remove(dest)
			cmd.Printf("Failed to download artifact: %v\n", err)
			return
		}

		cmd.Printf("Wrote %s (%s)\n", dest, formatSize(n))
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Destination path (default: artifact name)")
}
