package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const metricsShutdownTimeout = 5 * time.Second

type probeOptions struct {
	count       int
	interval    time.Duration
	reset       bool
	metricsAddr string
}

// probeLine is printed after every probe call.
type probeLine struct {
	Call         int    `json:"call"`
	OK           bool   `json:"ok"`
	Status       int    `json:"status_code,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Code         string `json:"code,omitempty"`
	State        string `json:"state"`
	FailureCount uint32 `json:"failure_count"`
}

func newProbeCommand(a *app) *cobra.Command {
	opts := probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe <endpoint>",
		Short: "Call an endpoint repeatedly and report the circuit breaker after each call",
		Long: `probe issues --count sequential GET requests on a single client and prints the
outcome and circuit breaker state after each one. Use it to watch a dependency recover,
or with --reset to force the breaker closed before probing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.count < 1 {
				return &ExitError{Code: 2, Err: fmt.Errorf("--count must be at least 1")}
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer func() { _ = a.close() }()
			return a.runProbe(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.count, "count", "n", 5, "Number of calls")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "Pause between calls")
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "Reset the circuit breaker before probing")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while probing")

	return cmd
}

func (a *app) runProbe(cmd *cobra.Command, endpoint string, opts probeOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if opts.metricsAddr != "" {
		stop, err := a.serveMetrics(opts.metricsAddr)
		if err != nil {
			return &ExitError{Code: 2, Err: err}
		}
		defer stop()
	}

	if opts.reset {
		a.client.ResetCircuitBreaker()
	}

	failed := 0
	for i := 1; i <= opts.count; i++ {
		res := a.client.Get(ctx, endpoint)

		line := probeLine{
			Call:         i,
			OK:           res.OK(),
			State:        a.client.CircuitState().String(),
			FailureCount: a.client.CircuitBreaker().FailureCount(),
		}
		if res.OK() {
			line.Status = res.Value.StatusCode
		} else {
			failed++
			line.Status = res.Err.Status
			line.Kind = string(res.Err.Kind)
			line.Code = res.Err.Code
		}
		if err := writeJSON(out, line); err != nil {
			return err
		}

		if i < opts.count && !sleep(ctx, opts.interval) {
			break
		}
	}

	if err := writeJSON(out, a.client.Health()); err != nil {
		return err
	}
	if failed > 0 {
		return &ExitError{Code: 1}
	}
	return nil
}

// serveMetrics exposes the client's registry on addr until the returned stop is called.
func (a *app) serveMetrics(addr string) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", listener.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

// sleep pauses for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
