package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/quarryd/quarry/internal/api"
	"github.com/quarryd/quarry/internal/domain"
)

func tasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and kill task runs on a running node",
	}
	cmd.AddCommand(tasksListCommand())
	cmd.AddCommand(tasksLogsCommand())
	cmd.AddCommand(tasksKillCommand())
	return cmd
}

func tasksListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <scraper-id>",
		Short: "List a scraper's task runs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tasks []domain.Task
			err := api.NewClient(serverAddr).Call(cmd.Context(), "get_task_instances",
				map[string]any{"task_name": args[0]}, &tasks)
			if err != nil {
				return err
			}
			renderTasks(tasks)
			return nil
		},
	}
}

func tasksLogsCommand() *cobra.Command {
	var afterID int64
	var maxLines int
	cmd := &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Print a task's log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lines []domain.LogLine
			err := api.NewClient(serverAddr).Call(cmd.Context(), "get_task_logs", map[string]any{
				"task_id":          args[0],
				"last_log_line_id": afterID,
				"max_lines":        maxLines,
			}, &lines)
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Fprintf(os.Stdout, "%s [%s] %s\n",
					line.Timestamp.Format(time.RFC3339), line.Level, line.Message)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&afterID, "after", 0, "only lines with an ID greater than this")
	cmd.Flags().IntVar(&maxLines, "max-lines", 100, "maximum number of lines to fetch")
	return cmd
}

func tasksKillCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <task-id>",
		Short: "Kill a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var task domain.Task
			err := api.NewClient(serverAddr).Call(cmd.Context(), "kill_task",
				map[string]any{"task_id": args[0]}, &task)
			if err != nil {
				return err
			}
			renderTasks([]domain.Task{task})
			return nil
		},
	}
}

func renderTasks(tasks []domain.Task) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Scraper", "Status", "Priority", "Created", "Finished", "Result"})
	for _, task := range tasks {
		finished := ""
		if task.FinishedAt != nil {
			finished = task.FinishedAt.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{
			task.ID,
			task.ScraperID,
			string(task.Status),
			task.Priority.String(),
			task.CreatedAt.Format(time.RFC3339),
			finished,
			truncate(task.Result, 60),
		})
	}
	t.Render()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
