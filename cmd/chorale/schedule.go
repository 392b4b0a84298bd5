package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
)

// runSchedule manages recurring jobs on a running server, the same rows the
// web API serves under /api/schedules.
func runSchedule(args []string) error {
	if len(args) == 0 {
		printScheduleUsage()
		return nil
	}

	flags := parseFlags(args[1:])
	server := flags["server"]
	if server == "" {
		server = "http://localhost:8080"
	}
	cli := &apiClient{base: strings.TrimRight(server, "/"), password: os.Getenv("CHORALE_WEB_PASSWORD")}

	switch args[0] {
	case "list":
		return scheduleList(cli)
	case "create":
		return scheduleCreate(cli, flags)
	case "delete":
		return scheduleDelete(cli, flags)
	case "pause":
		return scheduleToggle(cli, flags, false)
	case "resume":
		return scheduleToggle(cli, flags, true)
	default:
		printScheduleUsage()
		return fmt.Errorf("unknown schedule command: %s", args[0])
	}
}

func printScheduleUsage() {
	fmt.Fprintf(os.Stderr, `Usage: chorale schedule <command>

Commands:
  list                                        List scheduled jobs
  create --tenant <id> --domain <id> --schedule <expr> --input <text> [--kind ingestion|query]
  delete --id <id>                            Remove a scheduled job
  pause --id <id>                             Stop submitting a job
  resume --id <id>                            Resume a paused job

The schedule expression is a cron line ("0 3 * * *") or a JSON descriptor
with kind cron, interval, or once.

All commands accept --server <url>; the API password comes from
CHORALE_WEB_PASSWORD.
`)
}

// parseFlags collects "--key value" pairs.
func parseFlags(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

type scheduleRow struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id"`
	DomainID        string `json:"domain_id"`
	JobType         string `json:"job_type"`
	ScheduleDisplay string `json:"schedule_display"`
	Status          string `json:"status"`
	LastStatus      string `json:"last_status,omitempty"`
	NextRun         string `json:"next_run,omitempty"`
}

func scheduleList(cli *apiClient) error {
	var rows []scheduleRow
	if err := cli.call(http.MethodGet, "/api/schedules", nil, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No scheduled jobs.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tKIND\tTENANT/DOMAIN\tSCHEDULE\tNEXT RUN")
	for _, row := range rows {
		next := row.NextRun
		if next == "" {
			next = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s\t%s\t%s\n",
			row.ID, row.Status, row.JobType, row.TenantID, row.DomainID, row.ScheduleDisplay, next)
	}
	return w.Flush()
}

func scheduleCreate(cli *apiClient, flags map[string]string) error {
	if flags["tenant"] == "" || flags["domain"] == "" || flags["schedule"] == "" || flags["input"] == "" {
		return fmt.Errorf("--tenant, --domain, --schedule, and --input are required")
	}
	kind := flags["kind"]
	if kind == "" {
		kind = "ingestion"
	}

	var row scheduleRow
	err := cli.call(http.MethodPost, "/api/schedules", map[string]any{
		"tenant_id": flags["tenant"],
		"domain_id": flags["domain"],
		"job_type":  kind,
		"schedule":  flags["schedule"],
		"input":     flags["input"],
	}, &row)
	if err != nil {
		return err
	}
	fmt.Printf("Scheduled job created: %s (%s)\n", row.ID, row.ScheduleDisplay)
	return nil
}

func scheduleDelete(cli *apiClient, flags map[string]string) error {
	if flags["id"] == "" {
		return fmt.Errorf("--id is required")
	}
	if err := cli.call(http.MethodDelete, "/api/schedules/"+flags["id"], nil, nil); err != nil {
		return err
	}
	fmt.Println("Scheduled job deleted.")
	return nil
}

func scheduleToggle(cli *apiClient, flags map[string]string, enabled bool) error {
	if flags["id"] == "" {
		return fmt.Errorf("--id is required")
	}
	var row scheduleRow
	err := cli.call(http.MethodPut, "/api/schedules/"+flags["id"],
		map[string]any{"enabled": enabled}, &row)
	if err != nil {
		return err
	}
	fmt.Printf("Scheduled job %s is now %s\n", row.ID, row.Status)
	return nil
}
