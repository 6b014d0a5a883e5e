package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bull/course-tutor/internal/tutor"
)

var (
	askNoRetrieval bool
	askTopK        int
	askNoStream    bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question",
	Long: `Answers one question using the most relevant course material. When the
question asks to solve, simplify, differentiate, integrate, expand or factor
an expression written in backticks or dollar signs, the exact result is
computed first and the answer builds on it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		t := &terminal{svc: svc, out: cmd.OutOrStdout(), stream: !askNoStream}
		return t.ask(cmd.Context(), strings.Join(args, " "))
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive tutoring session",
	Long: `Starts a conversation that remembers earlier questions and answers.

Commands inside the chat:
  /history [n]   show the last n turns (all by default)
  /clear         forget the conversation so far
  /session       show session details
  /quit          leave the chat`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		t := &terminal{svc: svc, out: cmd.OutOrStdout(), stream: !askNoStream}
		return t.chat(cmd.Context(), cmd.InOrStdin())
	},
}

func init() {
	for _, c := range []*cobra.Command{askCmd, chatCmd} {
		c.Flags().BoolVar(&askNoRetrieval, "no-retrieval", false, "answer without consulting course materials")
		c.Flags().IntVarP(&askTopK, "top-k", "k", 0, "course material sections to retrieve (default from config)")
		c.Flags().BoolVar(&askNoStream, "no-stream", false, "print the answer only once it is complete")
		rootCmd.AddCommand(c)
	}
}

// terminal runs questions against the tutor and renders the answers.
type terminal struct {
	svc       *tutor.Service
	out       io.Writer
	stream    bool
	sessionID string
}

func (t *terminal) ask(ctx context.Context, question string) error {
	req := tutor.AskRequest{
		SessionID:     t.sessionID,
		Question:      question,
		SkipRetrieval: askNoRetrieval,
		TopK:          askTopK,
	}

	var (
		answer *tutor.Answer
		err    error
	)
	if t.stream {
		answer, err = t.svc.AskStream(ctx, req, func(fragment string) error {
			_, err := io.WriteString(t.out, fragment)
			return err
		})
		fmt.Fprintln(t.out)
	} else {
		answer, err = t.svc.Ask(ctx, req)
		if err == nil {
			fmt.Fprintln(t.out, answer.Text)
		}
	}
	if err != nil {
		return err
	}
	t.sessionID = answer.SessionID
	t.printFooter(answer)
	return nil
}

func (t *terminal) printFooter(answer *tutor.Answer) {
	faint := color.New(color.Faint)
	if answer.Verification != nil {
		faint.Fprintf(t.out, "Verified: %s\n", answer.Verification.Text)
	}
	if answer.VerificationError != nil {
		faint.Fprintf(t.out, "Not verified (%s): %s\n", answer.VerificationError.Kind, answer.VerificationError.Message)
	}
	if answer.Notice != "" {
		color.New(color.FgYellow).Fprintln(t.out, answer.Notice)
	}
	if len(answer.Sources) > 0 {
		faint.Fprintln(t.out, "Sources:")
		for _, s := range answer.Sources {
			faint.Fprintf(t.out, "  - %s (%.2f)\n", s.Source, s.Score)
		}
	}
}

func (t *terminal) chat(ctx context.Context, in io.Reader) error {
	snap, err := t.svc.CreateSession("")
	if err != nil {
		return err
	}
	t.sessionID = snap.ID
	defer t.svc.DeleteSession(t.sessionID)

	prompt := color.New(color.FgCyan, color.Bold)
	fmt.Fprintln(t.out, "Ask a math question, or /quit to leave.")

	scanner := bufio.NewScanner(in)
	for {
		prompt.Fprint(t.out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(t.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := t.command(line)
			if err != nil {
				printError(err)
			}
			if quit {
				return nil
			}
			continue
		}

		prompt.Fprint(t.out, "tutor> ")
		if err := t.ask(ctx, line); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			printError(err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// command runs a chat slash command and reports whether the chat should end.
func (t *terminal) command(line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/clear":
		if err := t.svc.ClearHistory(t.sessionID); err != nil {
			return false, err
		}
		fmt.Fprintln(t.out, "Conversation cleared.")
	case "/history":
		limit := 0
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 0 {
				return false, fmt.Errorf("%w: /history takes a non-negative number", tutor.ErrInvalidRequest)
			}
			limit = n
		}
		turns, err := t.svc.History(t.sessionID, limit)
		if err != nil {
			return false, err
		}
		if len(turns) == 0 {
			fmt.Fprintln(t.out, "No conversation yet.")
		}
		for _, turn := range turns {
			fmt.Fprintf(t.out, "[%s] %s: %s\n", turn.Timestamp.Format("15:04:05"), turn.Role, turn.Content)
		}
	case "/session":
		snap, err := t.svc.GetSession(t.sessionID)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(t.out, "Session %s: %d turns, started %s\n",
			snap.ID, snap.Turns, snap.CreatedAt.Format("15:04:05"))
	default:
		return false, fmt.Errorf("%w: unknown command %s", tutor.ErrInvalidRequest, fields[0])
	}
	return false, nil
}
