// Command reviewjobs runs the review reconciliation jobs once, either
// against the database directly or through a running review service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/utafrali/stocklot-review/internal/app"
	"github.com/utafrali/stocklot-review/internal/config"
	handler "github.com/utafrali/stocklot-review/internal/handler/http"
	"github.com/utafrali/stocklot-review/internal/jobs"
	"github.com/utafrali/stocklot-review/pkg/httpclient"
	"github.com/utafrali/stocklot-review/pkg/logger"
	"github.com/utafrali/stocklot-review/pkg/middleware"
)

func main() {
	cliApp := cli.App{
		Name:  "reviewjobs",
		Usage: "run review reconciliation jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "remote",
				Usage:   "base URL of a running review service; runs the job there instead of locally",
				EnvVars: []string{"REVIEW_SERVICE_URL"},
			},
			&cli.StringFlag{
				Name:    "jobs-secret",
				Usage:   "secret used to sign the service token for --remote",
				EnvVars: []string{"JOBS_JWT_SECRET"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "give up after this long",
				Value: 10 * time.Minute,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
	}
	cliApp.Commands = []*cli.Command{
		{
			Name:   jobs.JobUnblind,
			Usage:  "clear blind windows that have expired",
			Action: runJob(jobs.JobUnblind),
		},
		{
			Name:   jobs.JobRecompute,
			Usage:  "refresh marketplace means and recompute every subject's stats",
			Action: runJob(jobs.JobRecompute),
		},
	}
	cliApp.RunAndExitOnError()
}

func runJob(job string) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		log := logger.New("reviewjobs", cctx.String("log-level"))

		ctx, cancel := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, cctx.Duration("timeout"))
		defer cancelTimeout()

		var (
			result any
			err    error
		)
		if remote := cctx.String("remote"); remote != "" {
			result, err = runRemote(ctx, remote, cctx.String("jobs-secret"), job)
		} else {
			result, err = runLocal(ctx, log, job)
		}

		// A partial recompute still reports its summary.
		if result != nil {
			out, merr := json.MarshalIndent(result, "", "  ")
			if merr != nil {
				return fmt.Errorf("encode result: %w", merr)
			}
			fmt.Fprintln(os.Stdout, string(out))
		}
		if err != nil {
			return fmt.Errorf("%s: %w", job, err)
		}
		log.Info("job finished", slog.String("job", job))
		return nil
	}
}

func runLocal(ctx context.Context, log *slog.Logger, job string) (any, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	application, err := app.NewApp(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		if err := application.Shutdown(); err != nil {
			log.Warn("shutdown error", slog.String("error", err.Error()))
		}
	}()

	return run(ctx, application.Jobs(), job)
}

func run(ctx context.Context, runner jobs.Runner, job string) (any, error) {
	switch job {
	case jobs.JobUnblind:
		n, err := runner.UnblindExpired(ctx)
		if err != nil {
			return nil, err
		}
		return handler.UnblindResult{Unblinded: n}, nil
	case jobs.JobRecompute:
		summary, err := runner.RecomputeAll(ctx)
		if summary == nil {
			return nil, err
		}
		return summary, err
	default:
		return nil, fmt.Errorf("unknown job %q", job)
	}
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

func runRemote(ctx context.Context, baseURL, secret, job string) (any, error) {
	if secret == "" {
		return nil, fmt.Errorf("--jobs-secret is required with --remote")
	}
	token, err := middleware.IssueServiceToken(secret, "reviewjobs", handler.JobsRole, 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("issue service token: %w", err)
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 0
	cfg.MaxRetries = 0
	doer := httpclient.New(cfg)

	url := strings.TrimRight(baseURL, "/") + "/internal/jobs/" + job
	var resp envelope
	if err := httpclient.PostJSON(ctx, doer, url, "review-service", struct{}{}, &resp, map[string]string{
		"Authorization": "Bearer " + token,
	}); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
