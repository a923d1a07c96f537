package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	submitKind     string
	submitPrompt   string
	submitTitle    string
	submitTemplate string
	submitNotes    string
)

var submitCmd = &cobra.Command{
	Use:   "submit [files...]",
	Short: "Submit a job",
	Long: `Upload one or more spreadsheet files together with an instruction and
enqueue a job. The command returns immediately with the job id; use
"deskctl status <job-id> --watch" to follow it.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewJobClient(viper.GetString("url"))

		resp, err := client.SubmitJob(SubmitOptions{
			Kind:     submitKind,
			Prompt:   submitPrompt,
			Title:    submitTitle,
			Template: submitTemplate,
			Notes:    submitNotes,
		}, args)
		if err != nil {
			cmd.Printf("Failed to submit job: %v\n", err)
			return
		}

		cmd.Printf("Job submitted\n")
		cmd.Printf("  ID:     %s\n", resp.JobID)
		cmd.Printf("  Status: %s\n", resp.Status)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVarP(&submitKind, "kind", "k", "spreadsheet-transform",
		"Job kind: spreadsheet-transform, analytics or report")
	submitCmd.Flags().StringVarP(&submitPrompt, "prompt", "p", "", "Natural-language instruction")
	submitCmd.Flags().StringVar(&submitTitle, "title", "", "Report title (report kind)")
	submitCmd.Flags().StringVar(&submitTemplate, "template", "", "Report template: weekly, monthly or project")
	submitCmd.Flags().StringVar(&submitNotes, "notes", "", "Extra notes folded into the report")
}
