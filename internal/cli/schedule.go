package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/Weaver/internal/domain"
)

// NewDeploymentCmd создаёт группу команд для управления deployments.
func NewDeploymentCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployment",
		Short: "Manage deployments",
	}

	cmd.AddCommand(
		newDeploymentListCmd(clientFn, outputFn),
		newDeploymentApplyCmd(clientFn, outputFn),
		newDeploymentPauseCmd(clientFn, outputFn),
		newDeploymentResumeCmd(clientFn, outputFn),
	)

	return cmd
}

func newDeploymentListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			deployments, err := client.ListDeployments(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "FLOW", "SCHEDULE", "ACTIVE", "TAGS"}
			rows := make([][]string, len(deployments))
			for i, d := range deployments {
				rows[i] = []string{
					d.ID.String(), d.Name, d.FlowName, formatSchedule(d.Schedule),
					strconv.FormatBool(d.IsScheduleActive), strings.Join(d.Tags, ","),
				}
			}

			return out.Print(Table{Headers: headers, Rows: rows}, deployments)
		},
	}
}

func newDeploymentApplyCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update deployments from a YAML manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var (
				manifests []Manifest
				err       error
			)
			if file == "-" {
				manifests, err = ParseManifests(cmd.InOrStdin())
			} else {
				f, openErr := os.Open(file)
				if openErr != nil {
					return fmt.Errorf("open manifest: %w", openErr)
				}
				defer f.Close()
				manifests, err = ParseManifests(f)
			}
			if err != nil {
				return err
			}

			applied := make([]*domain.Deployment, 0, len(manifests))
			for _, m := range manifests {
				d, err := client.ApplyDeployment(cmd.Context(), m)
				if err != nil {
					return err
				}
				out.Notify("Deployment applied: %s/%s (%s)", d.FlowName, d.Name, d.ID)
				applied = append(applied, d)
			}

			rows := make([][]string, len(applied))
			for i, d := range applied {
				rows[i] = []string{d.ID.String(), d.Name, d.FlowName, formatSchedule(d.Schedule), strconv.FormatBool(d.IsScheduleActive)}
			}
			return out.Print(Table{Headers: []string{"ID", "NAME", "FLOW", "SCHEDULE", "ACTIVE"}, Rows: rows}, applied)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the manifest file (- for stdin)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newDeploymentPauseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "pause ID",
		Short: "Pause a deployment schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().SetScheduleActive(cmd.Context(), args[0], false); err != nil {
				return err
			}
			outputFn().Notify("Deployment paused: %s", args[0])
			return nil
		},
	}
}

func newDeploymentResumeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "resume ID",
		Short: "Resume a deployment schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().SetScheduleActive(cmd.Context(), args[0], true); err != nil {
				return err
			}
			outputFn().Notify("Deployment resumed: %s", args[0])
			return nil
		},
	}
}

// formatSchedule форматирует расписание для таблиц.
func formatSchedule(s *domain.Schedule) string {
	if s == nil {
		return "-"
	}
	var out string
	if s.Kind == domain.ScheduleCron {
		out = "cron " + s.Cron
	} else {
		out = "every " + s.Interval.String()
	}
	if s.Timezone != "" {
		out += " (" + s.Timezone + ")"
	}
	return out
}

// stateLabel форматирует тип и имя состояния: "PENDING/NotReady".
func stateLabel(t domain.StateType, name string) string {
	if name == "" || strings.EqualFold(strings.ReplaceAll(string(t), "_", ""), name) {
		return string(t)
	}
	return string(t) + "/" + name
}
