package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/itstheanurag/codejudge/internal/client"
	"github.com/itstheanurag/codejudge/internal/model"
	"github.com/rs/zerolog"
)

const usage = `usage: judgectl [-server URL] <command> [flags]

commands:
  submit -problem N -user N -file PATH [-wait] [-timeout D]
  get    -id N
  list   [-user N] [-problem N] [-status S] [-limit N]
`

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	global := flag.NewFlagSet("judgectl", flag.ExitOnError)
	server := global.String("server", envOr("JUDGE_SERVER", "http://localhost:8080"), "API base URL")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = global.Parse(os.Args[1:])

	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := client.New(*server)
	args := global.Args()

	var err error
	switch args[0] {
	case "submit":
		err = runSubmit(ctx, c, args[1:])
	case "get":
		err = runGet(ctx, c, args[1:])
	case "list":
		err = runList(ctx, c, args[1:])
	default:
		global.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", args[0]).Msg("command failed")
	}
}

func runSubmit(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	problem := fs.Int64("problem", 0, "problem id")
	user := fs.Int64("user", 0, "user id")
	file := fs.String("file", "", "path to the solution source")
	wait := fs.Bool("wait", false, "poll until a verdict is available")
	timeout := fs.Duration("timeout", time.Minute, "how long -wait polls")
	_ = fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("-file is required")
	}
	code, err := os.ReadFile(*file)
	if err != nil {
		return err
	}

	sub, err := c.Submit(ctx, string(code), *problem, *user)
	if err != nil {
		return err
	}
	if !*wait {
		return printJSON(sub)
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	sub, err = c.WaitForVerdict(ctx, sub.ID, 500*time.Millisecond)
	if err != nil {
		return err
	}
	return printJSON(sub)
}

func runGet(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	id := fs.Int64("id", 0, "submission id")
	_ = fs.Parse(args)

	sub, err := c.Get(ctx, *id)
	if err != nil {
		return err
	}
	return printJSON(sub)
}

func runList(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	user := fs.Int64("user", 0, "filter by user id")
	problem := fs.Int64("problem", 0, "filter by problem id")
	status := fs.String("status", "", `filter by status, e.g. "Wrong Answer"`)
	limit := fs.Int("limit", 20, "maximum number of results")
	_ = fs.Parse(args)

	filter := model.SubmissionFilter{UserID: *user, ProblemID: *problem, Limit: *limit}
	if *status != "" {
		st, ok := model.ParseStatus(*status)
		if !ok {
			return fmt.Errorf("unknown status %q", *status)
		}
		filter.Status = st
	}

	subs, err := c.List(ctx, filter)
	if err != nil {
		return err
	}
	return printJSON(subs)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
