package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mtzanidakis/relay/internal/orchestrator"
	"github.com/spf13/cobra"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the agents from the terminal",
	Long: `Send one message, or start an interactive session when no message is
given. Prefix a message with @plan or @chat to force the handling mode.
In interactive mode /reset forgets the session and /quit exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) > 0 {
			return chatOnce(cmd.Context(), a.orch, cmd.OutOrStdout(), strings.Join(args, " "))
		}
		return chatLoop(cmd.Context(), a.orch, os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "cli", "conversation session id")
}

func chatOnce(ctx context.Context, orch *orchestrator.Orchestrator, w io.Writer, text string) error {
	reply, err := orch.HandleMessage(ctx, chatSession, text)
	if reply.Text != "" {
		fmt.Fprintln(w, reply.Text)
	}
	return err
}

func chatLoop(ctx context.Context, orch *orchestrator.Orchestrator, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	fmt.Fprintf(w, "session %s, /reset to start over, /quit to exit\n", chatSession)
	for {
		fmt.Fprint(w, "> ")
		if !sc.Scan() {
			fmt.Fprintln(w)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := orch.Reset(chatSession); err != nil {
				fmt.Fprintf(w, "reset failed: %v\n", err)
			} else {
				fmt.Fprintln(w, "session cleared")
			}
			continue
		}

		if err := chatOnce(ctx, orch, w, line); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
