package cmd

import (
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/quarryd/quarry/internal/api"
	"github.com/quarryd/quarry/internal/domain"
)

func scrapersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrapers",
		Short: "Inspect and trigger scrapers on a running node",
	}
	cmd.AddCommand(scrapersListCommand())
	cmd.AddCommand(scrapersEnqueueCommand())
	return cmd
}

func scrapersListCommand() *cobra.Command {
	var nameFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scrapers in a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(serverAddr)

			var scrapers []domain.Scraper
			if nameFilter != "" {
				err := client.Call(cmd.Context(), "search_scrapers", map[string]any{
					"filters": map[string]any{"name_contains": nameFilter},
				}, &scrapers)
				if err != nil {
					return err
				}
			} else if err := client.Call(cmd.Context(), "get_scrapers", nil, &scrapers); err != nil {
				return err
			}

			renderScrapers(scrapers)
			return nil
		},
	}
	cmd.Flags().StringVar(&nameFilter, "name", "", "only scrapers whose name contains this string")
	return cmd
}

func scrapersEnqueueCommand() *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "enqueue <scraper-id>",
		Short: "Enqueue one run of a scraper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{"scraper_id": args[0]}
			if priority != "" {
				p, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				params["priority"] = p
			}

			var task domain.Task
			if err := api.NewClient(serverAddr).Call(cmd.Context(), "enqueue_scraper", params, &task); err != nil {
				return err
			}
			renderTasks([]domain.Task{task})
			return nil
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "", "run priority (utmost, high or normal)")
	return cmd
}

func renderScrapers(scrapers []domain.Scraper) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Handler", "Schedule", "Priority", "Updated"})
	for _, s := range scrapers {
		t.AppendRow(table.Row{
			s.ID,
			s.Name,
			s.Handler,
			scheduleLabel(s),
			s.SchedulePriority.String(),
			s.UpdatedAt.Format(time.RFC3339),
		})
	}
	t.Render()
}

func scheduleLabel(s domain.Scraper) string {
	if s.Schedule == domain.ScheduleCrontab {
		return string(s.Schedule) + " " + s.ScheduleCrontab
	}
	return string(s.Schedule)
}
