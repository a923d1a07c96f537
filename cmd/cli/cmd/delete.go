package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [job_id]",
	Short: "Delete a job and its stored files",
	Long: `Remove a job's record, uploaded inputs and artifacts. Running jobs
cannot be deleted; wait for them to finish or fail first.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewJobClient(viper.GetString("url"))

		if err := client.DeleteJob(args[0]); err != nil {
			cmd.Printf("Failed to delete job: %v\n", err)
			return
		}
		cmd.Printf("Job %s deleted\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
