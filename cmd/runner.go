package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/reelsync/internal/repositories"
	"github.com/desertthunder/reelsync/internal/resolver"
	"github.com/desertthunder/reelsync/internal/services"
	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/desertthunder/reelsync/internal/tasks"
	"github.com/desertthunder/reelsync/internal/transport"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Services are built from the configuration on first use unless provided up front.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer

	primary   services.Service
	secondary services.Service
	resolver  tasks.IDResolver
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Primary    services.Service
	Secondary  services.Service
	Resolver   tasks.IDResolver
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		primary:    opts.Primary,
		secondary:  opts.Secondary,
		resolver:   opts.Resolver,
	}
}

// SetLogger replaces the logger, e.g. with a file logger while the TUI owns the terminal.
func (r *Runner) SetLogger(l *log.Logger) { r.logger = l }

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, syncCommand, planCommand, resolveCommand, runsCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before loads the configuration named by --config, applies REELSYNC_* overrides
// and sets the log level. A missing file falls back to the defaults.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	r.configPath = cmd.String("config")

	if _, err := os.Stat(r.configPath); err == nil {
		config, err := shared.LoadConfig(r.configPath)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
	}
	r.config.ApplyEnv()

	level := cmd.String("log-level")
	if cmd.Bool("verbose") {
		level = "debug"
	}
	if err := shared.SetLogLevel(r.logger, level); err != nil {
		return ctx, err
	}
	return ctx, nil
}

func (r *Runner) policy() transport.Policy {
	return transport.DefaultPolicy(r.config.Transport.MaxRetries, r.config.Transport.InitialBackoff)
}

func (r *Runner) transportOptions() []transport.Option {
	return []transport.Option{
		transport.WithTimeout(r.config.Transport.Timeout),
		transport.WithLogger(shared.WithLogger(r.logger, "component", "transport")),
	}
}

// newTrakt builds an unauthenticated Trakt service from the configured credentials.
func (r *Runner) newTrakt() (*services.TraktService, error) {
	return services.NewTraktService(r.config.Credentials.Trakt.Map(),
		services.WithTraktTransport(r.policy(), r.transportOptions()...),
		services.WithTraktLogger(shared.WithLogger(r.logger, "service", "trakt")),
	)
}

// connect returns the primary and secondary services and the ID resolver, building any that were not injected.
func (r *Runner) connect(ctx context.Context) (services.Service, services.Service, tasks.IDResolver, error) {
	if err := r.config.Validate(); err != nil {
		return nil, nil, nil, err
	}

	if r.primary == nil {
		trakt, err := r.newTrakt()
		if err != nil {
			return nil, nil, nil, err
		}
		if token := r.config.Credentials.Trakt.Token(); token != nil {
			trakt.UseToken(ctx, token)
		} else if err := trakt.Authenticate(ctx, r.config.Credentials.Trakt.Map()); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: run 'reelsync auth trakt' first", err)
		}
		r.primary = trakt
	}

	if r.secondary == nil {
		imdbLogger := shared.WithLogger(r.logger, "service", "imdb")
		agent := services.NewWebDriver(r.config.Credentials.IMDb, nil, imdbLogger)
		r.secondary = services.NewIMDbService(r.config.Credentials.IMDb, agent,
			services.WithPageLoadPolicy(r.policy()),
			services.WithIMDbLogger(imdbLogger),
		)
	}

	if r.resolver == nil {
		r.resolver = r.newResolver()
	}
	return r.primary, r.secondary, r.resolver, nil
}

func (r *Runner) newResolver() *resolver.Resolver {
	client := transport.New(r.policy(), r.transportOptions()...)
	return resolver.New(client,
		resolver.WithLogger(shared.WithLogger(r.logger, "component", "resolver")),
		resolver.WithWorkers(r.config.Transport.ResolverWorkers),
		resolver.WithRate(r.config.Transport.ResolverRate),
	)
}

// ledger opens the run ledger. Callers close the returned database.
func (r *Runner) ledger() (*repositories.RunRepository, *repositories.ReviewSubmissionRepository, func() error, error) {
	db, err := shared.OpenLedger(r.config.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	return repositories.NewRunRepository(db), repositories.NewReviewSubmissionRepository(db), db.Close, nil
}

// persistToken saves a refreshed Trakt token so the next run does not need to refresh again.
func (r *Runner) persistToken() {
	oauth, ok := r.primary.(services.OAuthService)
	if !ok {
		return
	}
	token, err := oauth.Token()
	if err != nil || token.AccessToken == r.config.Credentials.Trakt.AccessToken {
		return
	}
	if err := r.saveTokens(token); err != nil {
		r.logger.Warn("failed to persist refreshed Trakt token", "error", err)
		return
	}
	r.logger.Info("persisted refreshed Trakt token")
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
