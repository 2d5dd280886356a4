// Package cli implements the tenantctl command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	tenantclient "github.com/JohnPlummer/jp-go-tenantclient"
	"github.com/JohnPlummer/jp-go-tenantclient/config"
	"github.com/JohnPlummer/jp-go-tenantclient/internal/logging"
)

// ExitError carries a process exit code. A nil Err means the command already reported
// the failure on stdout.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// app holds what the request commands share: flags, configuration and the client.
type app struct {
	configPath string
	baseURL    string
	tenantID   string
	logLevel   string

	cfg      *config.Config
	logger   *slog.Logger
	closer   io.Closer
	registry *prometheus.Registry
	client   *tenantclient.Client

	// transport replaces the HTTP transport in tests.
	transport tenantclient.Transport
}

// Run executes tenantctl with args and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "Error:", exitErr.Err)
		}
		return exitErr.Code
	}

	fmt.Fprintln(stderr, "Error:", err)
	return 2
}

// NewRootCommand creates the root Cobra command for tenantctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{})
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenantctl",
		Short: "tenantctl - operator tool for the tenant API",
		Long: `tenantctl sends requests to the tenant API through the resilient client,
with the same timeout, retry and circuit breaker policy the admin frontend uses.

Results are printed as JSON. A failed call prints its typed error and exits with status 1.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "Override the API base URL")
	cmd.PersistentFlags().StringVar(&a.tenantID, "tenant", "", "Override the tenant ID")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	for _, method := range []string{"GET", "POST", "PUT", "DELETE"} {
		cmd.AddCommand(newRequestCommand(a, method))
	}
	cmd.AddCommand(newProbeCommand(a))
	cmd.AddCommand(newKeyringCommand())

	return cmd
}

// setup loads configuration and builds the logger and client. Commands that talk to the
// API call it first; keyring commands do not need a base URL and skip it.
func (a *app) setup(cmd *cobra.Command) error {
	overrides := map[string]any{}
	if a.baseURL != "" {
		overrides["base_url"] = a.baseURL
	}
	if a.tenantID != "" {
		overrides["tenant_id"] = a.tenantID
	}
	if a.logLevel != "" {
		overrides["log.level"] = a.logLevel
	}

	cfg, err := config.Load(a.configPath, "", overrides)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	a.cfg = cfg

	a.logger, a.closer = logging.New(cfg.Log, cmd.ErrOrStderr())

	a.registry = prometheus.NewRegistry()
	metrics, err := tenantclient.NewMetrics(a.registry)
	if err != nil {
		_ = a.close()
		return &ExitError{Code: 2, Err: fmt.Errorf("registering metrics: %w", err)}
	}

	opts := []tenantclient.Option{
		tenantclient.WithConfig(cfg.Client),
		tenantclient.WithName(cfg.Name),
		tenantclient.WithLogger(a.logger),
		tenantclient.WithMetrics(metrics),
	}
	opts = append(opts, a.credentialOptions()...)
	if a.transport != nil {
		opts = append(opts, tenantclient.WithTransport(a.transport))
	}

	client, err := tenantclient.New(cfg.BaseURL, opts...)
	if err != nil {
		_ = a.close()
		return &ExitError{Code: 2, Err: err}
	}
	a.client = client
	return nil
}

// credentialOptions prefers explicit configuration over the keyring.
func (a *app) credentialOptions() []tenantclient.Option {
	var store *tenantclient.KeyringStore
	if a.cfg.Keyring.Enabled {
		store = tenantclient.NewKeyringStore(a.cfg.Keyring.Service).WithLogger(a.logger)
	}

	var opts []tenantclient.Option
	switch {
	case a.cfg.Token != "":
		opts = append(opts, tenantclient.WithCredentials(tenantclient.StaticCredentials(a.cfg.Token)))
	case store != nil:
		opts = append(opts, tenantclient.WithCredentials(store))
	}
	switch {
	case a.cfg.TenantID != "":
		opts = append(opts, tenantclient.WithTenant(tenantclient.StaticTenant(a.cfg.TenantID)))
	case store != nil:
		opts = append(opts, tenantclient.WithTenant(store))
	}
	return opts
}

// close releases the log file, if any. Safe to call more than once.
func (a *app) close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}
