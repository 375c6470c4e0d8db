package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewFlowRunCmd создаёт группу команд для просмотра flow runs.
func NewFlowRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow-run",
		Short: "Inspect flow runs",
	}

	cmd.AddCommand(
		newFlowRunListCmd(clientFn, outputFn),
		newFlowRunInspectCmd(clientFn, outputFn),
		newFlowRunStatesCmd(clientFn, outputFn),
	)

	return cmd
}

func newFlowRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var flow string
	var state string
	var limit int

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List flow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListFlowRuns(cmd.Context(), ListRunsOpts{
				Flow:  flow,
				State: state,
				Limit: limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "FLOW", "STATE", "EXPECTED_START", "RUN_COUNT"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.ID.String(), r.Name, r.FlowName, stateLabel(r.State.Type, r.State.Name),
					formatTime(r.ExpectedStartTime), strconv.Itoa(r.RunCount),
				}
			}

			return out.Print(Table{Headers: headers, Rows: rows}, runs)
		},
	}

	cmd.Flags().StringVar(&flow, "flow", "", "Filter by flow name")
	cmd.Flags().StringVar(&state, "state", "", "Filter by state type (SCHEDULED, PENDING, RUNNING, COMPLETED, FAILED, CRASHED, TIMED_OUT, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 15, "Maximum number of results")

	return cmd
}

func newFlowRunInspectCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect ID",
		Short: "Show flow run details and its task runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			details, err := client.InspectFlowRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out.Structured() {
				return out.Encode(details)
			}

			r := details.Run
			if err := out.WriteTable(Table{
				Headers: []string{"ID", "NAME", "FLOW", "STATE", "MESSAGE", "START", "END", "RUN_COUNT"},
				Rows: [][]string{{
					r.ID.String(), r.Name, details.FlowName, stateLabel(r.State.Type, r.State.Name),
					r.State.Message, formatTime(r.StartTime), formatTime(r.EndTime), strconv.Itoa(r.RunCount),
				}},
			}); err != nil {
				return err
			}

			if len(details.TaskRuns) == 0 {
				return nil
			}
			rows := make([][]string, len(details.TaskRuns))
			for i, t := range details.TaskRuns {
				rows[i] = []string{
					t.ID.String(), t.Name, stateLabel(t.State.Type, t.State.Name),
					strconv.Itoa(t.RunCount), t.State.Message,
				}
			}
			return out.WriteTable(Table{Headers: []string{"TASK_RUN_ID", "NAME", "STATE", "RUN_COUNT", "MESSAGE"}, Rows: rows})
		},
	}
}

func newFlowRunStatesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "states ID",
		Short: "Show the state history of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			states, err := client.States(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			headers := []string{"TIMESTAMP", "TYPE", "NAME", "MESSAGE"}
			rows := make([][]string, len(states))
			for i, s := range states {
				rows[i] = []string{formatTime(&s.Timestamp), string(s.Type), s.Name, s.Message}
			}

			return out.Print(Table{Headers: headers, Rows: rows}, states)
		},
	}
}
