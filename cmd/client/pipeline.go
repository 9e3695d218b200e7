package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"videoterror/internal/orchestrator"
)

var (
	teardown bool
	maxPolls int
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline <pipeline.yaml>",
	Short: "Run a multi-stage analysis pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := orchestrator.LoadPipeline(args[0])
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("teardown") {
			p.Teardown = teardown
		}
		if maxPolls > 0 {
			p.Orchestrator.MaxPolls = maxPolls
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		report, err := orchestrator.New(c, p.Orchestrator).Run(ctx, p)
		if report != nil {
			if rerr := renderReport(os.Stdout, report); rerr != nil {
				logrus.WithError(rerr).Error("failed to render report")
			}
		}
		return err
	},
}

func init() {
	pipelineCmd.Flags().BoolVar(&teardown, "teardown", false, "Delete everything the pipeline created once it ends")
	pipelineCmd.Flags().IntVar(&maxPolls, "max-polls", 0, "Override the progress poll budget")
}

func renderReport(w io.Writer, report *orchestrator.Report) error {
	fmt.Fprintf(w, "dataset %s, videos %v\n", report.DatasetId, report.VideoIds)

	stages := tablewriter.NewWriter(w)
	stages.Header("Stage", "Type", "Task", "Process", "Progress")
	for _, s := range report.Stages {
		taskType := ""
		if s.Task != nil {
			taskType = string(s.Task.TaskType)
		}
		progress := 0.0
		if s.Progress != nil {
			progress = s.Progress.Progress
		}
		stages.Append(s.Stage, taskType, s.TaskId, s.ProcessId, fmt.Sprintf("%.0f%%", progress*100))
	}
	if err := stages.Render(); err != nil {
		return err
	}

	for _, s := range report.Stages {
		if s.Metadata != nil {
			fmt.Fprintf(w, "\nmetadata of %s\n", s.Stage)
			table := tablewriter.NewWriter(w)
			table.Header("Class", "Occurrence")
			for _, c := range s.Metadata.ClassIdOccurence {
				table.Append(c.ClassId, c.Occurrence)
			}
			if err := table.Render(); err != nil {
				return err
			}
		}
		if len(s.Stats) > 0 {
			fmt.Fprintf(w, "\nevent stats of %s\n", s.Stage)
			table := tablewriter.NewWriter(w)
			table.Header("Video", "Events", "Coverage")
			for _, st := range s.Stats {
				table.Append(st.VideoId, st.Count, fmt.Sprintf("%.1f%%", st.Coverage*100))
			}
			if err := table.Render(); err != nil {
				return err
			}
		}
		if len(s.Events) > 0 {
			fmt.Fprintf(w, "\nevents of %s\n", s.Stage)
			table := tablewriter.NewWriter(w)
			table.Header("Video", "Group", "Class", "Score", "Start", "End")
			for _, list := range s.Events {
				for _, e := range list.Events {
					table.Append(list.VideoId, e.GroupId, e.ClassId, fmt.Sprintf("%.2f", e.Score),
						fmt.Sprintf("%.1fs", e.T1Sec), fmt.Sprintf("%.1fs", e.T2Sec))
				}
			}
			if err := table.Render(); err != nil {
				return err
			}
		}
	}
	return nil
}
