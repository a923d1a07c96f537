package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deskforge/pkg/api"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long: `Retrieve the status of a job: its state (queued, running, succeeded,
failed), pipeline stage, progress and, once finished, the summary or error.
With --watch the command polls until the job reaches a terminal state.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewJobClient(viper.GetString("url"))
		jobID := args[0]

		for {
			job, err := client.GetJob(jobID)
			if err != nil {
				cmd.Printf("Failed to get job: %v\n", err)
				return
			}

			printStatus(cmd, job)
			if !statusWatch || job.Status == "succeeded" || job.Status == "failed" {
				return
			}
			time.Sleep(2 * time.Second)
		}
	},
}

func printStatus(cmd *cobra.Command, job *api.JobResponse) {
	icon := statusIcon(job.Status)
	cmd.Printf("%s %sJob %s%s\n", icon, colorBold, job.JobID, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sKind:%s      %s\n", colorDim, colorReset, job.Kind)
	cmd.Printf("%sStatus:%s    %s\n", colorDim, colorReset, colorizeStatus(job.Status))

	if job.Stage != "" && !terminal(job.Status) {
		cmd.Printf("%sStage:%s     %s (%.0f%%)\n", colorDim, colorReset, job.Stage, job.Progress*100)
		if job.Detail != "" {
			cmd.Printf("%sDetail:%s    %s\n", colorDim, colorReset, job.Detail)
		}
	}

	cmd.Printf("%sCreated:%s   %s\n", colorDim, colorReset, job.CreatedAt.Format(time.RFC1123))
	if job.StartedAt != nil && job.FinishedAt != nil {
		cmd.Printf("%sFinished:%s  %s %s(%s)%s\n", colorDim, colorReset,
			job.FinishedAt.Format(time.RFC1123),
			colorCyan, formatDuration(job.FinishedAt.Sub(*job.StartedAt)), colorReset)
	}

	if job.Error != "" {
		cmd.Printf("%sError:%s     %s%s%s\n", colorDim, colorReset, colorRed, job.Error, colorReset)
		if job.Detail != "" {
			cmd.Printf("%s\n", job.Detail)
		}
	}
	if len(job.Summary) > 0 {
		cmd.Printf("%sSummary:%s   %s\n", colorDim, colorReset, string(job.Summary))
	}
	cmd.Println()
}

func terminal(status string) bool {
	return status == "succeeded" || status == "failed"
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "succeeded":
		return colorGreen + "✓" + colorReset
	case "failed":
		return colorRed + "✗" + colorReset
	case "running":
		return colorYellow + "⏳" + colorReset
	case "queued":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	switch status {
	case "succeeded":
		return colorGreen + status + colorReset
	case "failed":
		return colorRed + status + colorReset
	case "running":
		return colorYellow + status + colorReset
	case "queued":
		return colorCyan + status + colorReset
	default:
		return status
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Poll until the job finishes")
}
