package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts [job_id]",
	Short: "List a job's artifacts",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewJobClient(viper.GetString("url"))

		infos, err := client.ListArtifacts(args[0])
		if err != nil {
			cmd.Printf("Failed to list artifacts: %v\n", err)
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()
		w.Write([]byte("NAME\tREQUIRED\tEXISTS\tSIZE\n"))
		for _, info := range infos {
			row := []string{
				info.Name,
				yesNo(info.Required),
				yesNo(info.Exists),
				formatSize(info.SizeBytes),
			}
			w.Write([]byte(strings.Join(row, "\t") + "\n"))
		}
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func init() {
	rootCmd.AddCommand(artifactsCmd)
}
