// Command relayctl talks to a running relay gateway over NATS.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mtzanidakis/relay/internal/natsbus"
	"github.com/mtzanidakis/relay/internal/orchestrator"
	"github.com/mtzanidakis/relay/internal/workflow"
)

const (
	requestTimeout = 10 * time.Second
	// runTimeout outlasts the gateway's own limit for executing a plan.
	runTimeout = 150 * time.Second
)

type ipcResponse struct {
	OK       bool              `json:"ok,omitempty"`
	Error    string            `json:"error,omitempty"`
	Plan     *workflow.Plan    `json:"plan,omitempty"`
	Results  []workflow.Result `json:"results,omitempty"`
	Summary  string            `json:"summary,omitempty"`
	Runs     []runSummary      `json:"runs,omitempty"`
	Run      *runDetail        `json:"run,omitempty"`
	Found    bool              `json:"found,omitempty"`
	Symbol   string            `json:"symbol,omitempty"`
	Exchange string            `json:"exchange,omitempty"`
	Key      string            `json:"key,omitempty"`
	Reply    *chatReply        `json:"reply,omitempty"`
}

type runSummary struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

type runDetail struct {
	runSummary
	Steps []struct {
		StepID       string `json:"step_id"`
		AgentType    string `json:"agent_type"`
		Action       string `json:"action"`
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
	} `json:"steps"`
}

type chatReply struct {
	Mode  string `json:"mode"`
	Text  string `json:"text"`
	Agent string `json:"agent"`
}

func sendIPC(natsURL, reqType string, payload map[string]any, timeout time.Duration) (*ipcResponse, error) {
	client, err := natsbus.NewClientFromURL(natsURL)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var resp ipcResponse
	cmd := orchestrator.IPCCommand{Type: reqType, Payload: raw}
	if err := client.RequestJSON(natsbus.TopicIPC, cmd, &resp, timeout); err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

// queryArg returns --query, or the positional words when no flag is given.
func queryArg(args []string) string {
	if q := parseArgs(args)["query"]; q != "" {
		return q
	}
	if len(args) > 0 && strings.HasPrefix(args[0], "--") {
		return ""
	}
	return strings.TrimSpace(strings.Join(args, " "))
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  relayctl plan <query> | --query "..."`)
	fmt.Fprintln(os.Stderr, `  relayctl run <query> | --query "..."`)
	fmt.Fprintln(os.Stderr, "  relayctl runs [--limit N]")
	fmt.Fprintln(os.Stderr, `  relayctl show --id "..."`)
	fmt.Fprintln(os.Stderr, `  relayctl symbol <query>`)
	fmt.Fprintln(os.Stderr, `  relayctl chat <message> [--session "..."]`)
	fmt.Fprintln(os.Stderr, "\nEnvironment:\n  NATS_URL  gateway NATS address (default nats://localhost:4222)")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	if err := run(natsURL, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fatal("%v", err)
	}
}

func run(natsURL, command string, rest []string, w io.Writer) error {
	var (
		reqType = command
		payload = map[string]any{}
		timeout = requestTimeout
	)

	switch command {
	case "plan", "run", "symbol", "chat":
		q := queryArg(rest)
		if q == "" {
			return fmt.Errorf("a query is required")
		}
		payload["query"] = q
		switch command {
		case "symbol":
			reqType = "parse_symbol"
		case "run":
			timeout = runTimeout
		case "chat":
			timeout = runTimeout
			if s := parseArgs(rest)["session"]; s != "" {
				payload["session_id"] = s
			}
		}
	case "runs":
		if l := parseArgs(rest)["limit"]; l != "" {
			n, err := strconv.Atoi(l)
			if err != nil {
				return fmt.Errorf("invalid --limit: %s", l)
			}
			payload["limit"] = n
		}
	case "show":
		id := parseArgs(rest)["id"]
		if id == "" {
			return fmt.Errorf("--id is required")
		}
		reqType = "run_get"
		payload["id"] = id
	default:
		return fmt.Errorf("unknown command: %s", command)
	}

	resp, err := sendIPC(natsURL, reqType, payload, timeout)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	printResponse(w, command, resp)
	return nil
}

func printResponse(w io.Writer, command string, resp *ipcResponse) {
	switch command {
	case "plan":
		if resp.Plan == nil {
			return
		}
		fmt.Fprintf(w, "Plan %s\n", resp.Plan.RequestID)
		for i, group := range resp.Plan.ParallelGroups {
			for _, id := range group {
				s, _ := resp.Plan.Step(id)
				fmt.Fprintf(w, "  [%d] %s  %s/%s", i+1, s.StepID, s.AgentType, s.Action)
				if len(s.Dependencies) > 0 {
					fmt.Fprintf(w, "  after %s", strings.Join(s.Dependencies, ", "))
				}
				fmt.Fprintln(w)
			}
		}

	case "run":
		fmt.Fprintln(w, resp.Summary)

	case "runs":
		if len(resp.Runs) == 0 {
			fmt.Fprintln(w, "No runs found.")
			return
		}
		for _, r := range resp.Runs {
			fmt.Fprintf(w, "  %s  %-9s  %s  %s\n", r.ID, r.Status, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Query)
		}

	case "show":
		if resp.Run == nil {
			return
		}
		fmt.Fprintf(w, "Run %s [%s]\n  %s\n", resp.Run.ID, resp.Run.Status, resp.Run.Query)
		for _, s := range resp.Run.Steps {
			fmt.Fprintf(w, "  %s  %-9s  %s/%s", s.StepID, s.Status, s.AgentType, s.Action)
			if s.ErrorMessage != "" {
				fmt.Fprintf(w, "  %s", s.ErrorMessage)
			}
			fmt.Fprintln(w)
		}

	case "symbol":
		if !resp.Found {
			fmt.Fprintln(w, "No instrument found.")
			return
		}
		fmt.Fprintln(w, resp.Key)

	case "chat":
		if resp.Reply != nil {
			fmt.Fprintln(w, resp.Reply.Text)
		}
	}
}
