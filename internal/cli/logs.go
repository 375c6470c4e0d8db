package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

// NewLogsCmd создаёт команду просмотра логов run.
func NewLogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var level string
	var limit int

	cmd := &cobra.Command{
		Use:   "logs RUN_ID",
		Short: "Show logs of a flow run or task run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			logs, err := client.Logs(cmd.Context(), args[0], level, limit)
			if err != nil {
				return err
			}

			headers := []string{"TIMESTAMP", "LEVEL", "LOGGER", "MESSAGE"}
			rows := make([][]string, len(logs))
			for i, l := range logs {
				rows[i] = []string{formatTime(&l.Timestamp), strings.ToUpper(l.Level), l.Name, l.Message}
			}

			return out.Print(Table{Headers: headers, Rows: rows}, logs)
		},
	}

	cmd.Flags().StringVar(&level, "level", "", "Minimum level (DEBUG, INFO, WARN, ERROR)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of records")

	return cmd
}
