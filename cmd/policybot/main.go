package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aihub/policy-assistant/app/bootstrap"
	"github.com/aihub/policy-assistant/internal/config"
	"github.com/aihub/policy-assistant/internal/logger"
	"github.com/aihub/policy-assistant/internal/models"
	"github.com/joho/godotenv"
)

const banner = `Insurance Policy Assistant
Ask a question about your policy. /clear resets the conversation, /quit exits.`

// asker 单个会话
type asker interface {
	Ask(ctx context.Context, question string) (models.Answer, error)
	ClearHistory()
}

func main() {
	opts, err := parseFlags(newFlagSet(os.Stderr), os.Args[1:])
	if err != nil {
		os.Exit(flagExitCode(os.Stderr, err))
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	_ = godotenv.Load()

	logLevel := "warn"
	if opts.verbose {
		logLevel = "debug"
	}
	log, err := logger.NewLogger(os.Getenv("ENV"), logLevel)
	if err != nil {
		return err
	}
	logger.Logger = log

	cfg, err := config.NewConfigLoader().Load()
	if err != nil {
		return err
	}
	if opts.docs != "" {
		cfg.Knowledge.DocumentPath = opts.docs
	}
	if opts.indexPath != "" {
		cfg.Knowledge.IndexPath = opts.indexPath
	}

	fmt.Println("Loading knowledge base...")
	app, err := bootstrap.Start(cfg, log)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	ctx, stop := signal.NotifyContext(app.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := app.Services.Sessions.GetOrCreate("")
	return repl(ctx, os.Stdin, os.Stdout, session, opts.showSources)
}

// repl 逐行读取问题直到EOF、/quit或ctx取消
func repl(ctx context.Context, in io.Reader, out io.Writer, session asker, showSources bool) error {
	fmt.Fprintln(out, banner)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			session.ClearHistory()
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}

		answer, err := session.Ask(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		printAnswer(out, answer, showSources)
	}
}

func printAnswer(out io.Writer, answer models.Answer, showSources bool) {
	fmt.Fprintf(out, "\nAssistant: %s\n", answer.Text)
	level := models.ConfidenceLevel(answer.Confidence)
	fmt.Fprintf(out, "[%s confidence response (%.2f)]\n", strings.ToUpper(level[:1])+level[1:], answer.Confidence)
	if !showSources || len(answer.Sources) == 0 {
		return
	}
	fmt.Fprintln(out, "Sources:")
	for i, s := range answer.Sources {
		fmt.Fprintf(out, "  %d. %s\n", i+1, s.Text)
	}
}
