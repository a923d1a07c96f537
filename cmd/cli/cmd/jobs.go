package cmd

import (
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs, most recent first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewJobClient(viper.GetString("url"))

		jobs, err := client.ListJobs()
		if err != nil {
			cmd.Printf("Failed to list jobs: %v\n", err)
			return
		}
		if len(jobs) == 0 {
			cmd.Println("No jobs")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()
		w.Write([]byte("ID\tKIND\tSTATUS\tCREATED\tFILES\n"))
		for _, job := range jobs {
			row := []string{
				job.JobID,
				job.Kind,
				job.Status,
				job.CreatedAt.Format("2006-01-02 15:04:05"),
				strings.Join(job.InputFiles, ", "),
			}
			w.Write([]byte(strings.Join(row, "\t") + "\n"))
		}
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}
