package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/session"
)

var chatLoad string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start interactive chat",
	Long: `Start an interactive chat with the school assistant.

Type a message and press enter. Commands:
  /new          start a new conversation
  /list         list earlier conversations
  /load <id>    continue an earlier conversation
  /rate <1-5>   rate the current conversation when asked
  /dismiss      skip the rating prompt
  /quit         leave`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatLoad, "load", "", "conversation id to continue")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	p := &printer{out: out}
	sess, err := session.New(client, client, client,
		session.WithLogger(newLogger(cfg, cmd.ErrOrStderr())),
		session.WithListener(p.onEvent),
		session.WithFeedbackThreshold(cfg.Feedback.Threshold),
	)
	if err != nil {
		return err
	}
	defer sess.Dispose()

	if chatLoad != "" {
		if err := sess.Load(ctx, chatLoad); err != nil {
			return err
		}
		printTranscript(out, sess.Transcript())
	}

	fmt.Fprintln(out, "Connected to", cfg.Endpoint.BaseURL, "- type /help for commands.")
	return runREPL(ctx, cmd.InOrStdin(), out, sess)
}

// chatSession is the part of session.Session the REPL drives.
type chatSession interface {
	Send(ctx context.Context, text string) error
	Rate(ctx context.Context, stars int) error
	DismissFeedback() error
	Conversations(ctx context.Context) ([]domain.ConversationSummary, error)
	Load(ctx context.Context, id string) error
	StartNew()
	Transcript() []domain.Message
}

// printer renders session events as plain text.
type printer struct {
	out       io.Writer
	streaming bool
}

func (p *printer) onEvent(e session.Event) {
	switch e.Kind {
	case session.EventIncrement:
		if !p.streaming {
			fmt.Fprint(p.out, "assistant> ")
			p.streaming = true
		}
		fmt.Fprint(p.out, e.Text)
	case session.EventCompleted, session.EventFailed:
		if p.streaming {
			fmt.Fprintln(p.out)
			p.streaming = false
		}
	case session.EventFeedbackPrompt:
		fmt.Fprintln(p.out, "Was this helpful? Rate it with /rate 1-5, or /dismiss.")
	}
}

func runREPL(ctx context.Context, in io.Reader, out io.Writer, sess chatSession) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := sess.Send(ctx, line); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintln(out, "error:", describe(err))
			}
			continue
		}

		name, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch name {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, "/new  /list  /load <id>  /rate <1-5>  /dismiss  /quit")
		case "/new":
			sess.StartNew()
			fmt.Fprintln(out, "Started a new conversation.")
		case "/list":
			summaries, err := sess.Conversations(ctx)
			if err != nil {
				fmt.Fprintln(out, "error:", describe(err))
				continue
			}
			printSummaries(out, summaries)
		case "/load":
			if arg == "" {
				fmt.Fprintln(out, "usage: /load <id>")
				continue
			}
			if err := sess.Load(ctx, arg); err != nil {
				fmt.Fprintln(out, "error:", describe(err))
				continue
			}
			printTranscript(out, sess.Transcript())
		case "/rate":
			stars, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Fprintln(out, "usage: /rate <1-5>")
				continue
			}
			if err := sess.Rate(ctx, stars); err != nil {
				fmt.Fprintln(out, "error:", describe(err))
				continue
			}
			fmt.Fprintln(out, "Thanks for the feedback.")
		case "/dismiss":
			if err := sess.DismissFeedback(); err != nil {
				fmt.Fprintln(out, "error:", describe(err))
			}
		default:
			fmt.Fprintf(out, "unknown command %s, try /help\n", name)
		}
	}
}

// describe turns session errors into short user-facing text.
func describe(err error) string {
	var sErr *session.Error
	if !errors.As(err, &sErr) {
		return err.Error()
	}
	switch sErr.Code {
	case session.ErrorBusy:
		return "still answering the previous message"
	case session.ErrorFeedbackNotOffered:
		return "there is nothing to rate yet"
	case session.ErrorInvalidRating:
		return "ratings go from 1 to 5"
	case session.ErrorTransport:
		switch sErr.Reason {
		case "rate_limited":
			return "the assistant is busy, try again in a moment"
		case "stream_interrupted":
			return "the answer was cut off"
		}
		return "could not reach the assistant"
	}
	return sErr.Error()
}
