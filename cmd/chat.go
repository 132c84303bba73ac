package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cogent/internal/agent"
	"github.com/nextlevelbuilder/cogent/internal/providers"
	"github.com/nextlevelbuilder/cogent/internal/tools"
)

var chatSessionID string

func chatCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with the agent",
		Run:   runChat,
	}
	c.Flags().StringVar(&chatSessionID, "session", "", "session id to resume (default: new session)")
	return c
}

func runChat(cmd *cobra.Command, _ []string) {
	a, err := openApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer a.Close()

	sessionID := chatSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	fmt.Printf("session %s — type a message, /stop to interrupt, /quit to exit\n", sessionID)

	// Ctrl-C stops the in-flight turn instead of killing the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			a.orch.StopSession(sessionID)
		}
	}()

	userCtx := &tools.Context{
		PromptUser: func(_ context.Context, question string) (string, error) {
			fmt.Printf("\n[agent asks] %s\n> ", question)
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			return strings.TrimSpace(line), err
		},
		NotifyUser: func(_ context.Context, message string) error {
			fmt.Printf("\n[notify] %s\n", message)
			return nil
		},
		SendFile: func(_ context.Context, path, caption string) error {
			fmt.Printf("\n[file] %s %s\n", path, caption)
			return nil
		},
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return
		case "/stop":
			a.orch.StopSession(sessionID)
			continue
		}

		events, err := a.orch.ProcessInputStream(context.Background(), sessionID,
			providers.TextMessage("user", line), userCtx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		streamed := false
		for ev := range events {
			switch ev.Type {
			case agent.EventResponseChunk:
				fmt.Print(ev.Text)
				streamed = true
			case agent.EventToolCall:
				fmt.Printf("\n[tool] %s\n", ev.ToolName)
			case agent.EventResponseComplete:
				if !streamed {
					fmt.Print(ev.Message)
				}
			case agent.EventError:
				fmt.Fprintf(os.Stderr, "\nerror: %s\n", ev.Error)
			}
		}
		fmt.Println()
	}
}
