// Package cli implements the farmkeeper command line client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/farmkeeper/internal/client/api"
	"github.com/iudanet/farmkeeper/internal/client/auth"
	"github.com/iudanet/farmkeeper/internal/client/connectivity"
	"github.com/iudanet/farmkeeper/internal/client/iocli"
	"github.com/iudanet/farmkeeper/internal/client/outbox"
	"github.com/iudanet/farmkeeper/internal/client/storage/boltdb"
	"github.com/iudanet/farmkeeper/internal/config"
	"github.com/iudanet/farmkeeper/internal/logging"
	"github.com/iudanet/farmkeeper/internal/models"
)

// PasswordEnv переменная окружения с паролем для неинтерактивного входа
const PasswordEnv = "FARMKEEPER_PASSWORD"

// ErrServerUnavailable возвращается, когда за отведенное время не удалось
// установить пригодное соединение с сервером
var ErrServerUnavailable = errors.New("server is not reachable or session is not accepted")

// BuildInfo версия клиента, задается при сборке
type BuildInfo struct {
	Version   string
	BuildDate string
	GitCommit string
}

// flags глобальные флаги командной строки
type flags struct {
	configPath string
	serverURL  string
	dbPath     string
	verbose    bool
}

// Cli хранит сервисы клиента на время выполнения одной команды
type Cli struct {
	io          iocli.IO
	logger      *slog.Logger
	logCloser   io.Closer
	store       *boltdb.Storage
	apiClient   *api.Client
	authService *auth.Service
	reconciler  *outbox.Reconciler
	monitor     *connectivity.Monitor
	stopMonitor context.CancelFunc
	getenv      func(string) string
	now         func() time.Time
	cfg         config.ClientConfig
	build       BuildInfo
	flags       flags
	background  sync.WaitGroup
}

// New creates a CLI writing to io. getenv is used for PasswordEnv.
func New(io iocli.IO, build BuildInfo, getenv func(string) string) *Cli {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	return &Cli{
		io:     io,
		build:  build,
		getenv: getenv,
		now:    time.Now,
	}
}

// Execute runs the command line in args and releases every resource afterwards
func (c *Cli) Execute(ctx context.Context, args []string) error {
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(c.io)
	root.SetErr(c.io)

	err := root.ExecuteContext(ctx)
	if closeErr := c.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (c *Cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "farmkeeper",
		Short:         "Farm records that keep working offline",
		Long:          "farmkeeper records farm edits locally right away and synchronizes them with the farm server when it is reachable.",
		Version:       c.build.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("farmkeeper %s (built %s, commit %s)\n",
		c.build.Version, c.build.BuildDate, c.build.GitCommit))

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.configPath, "config", "farmkeeper.yaml", "path to the configuration file")
	pf.StringVar(&c.flags.serverURL, "server", "", "server URL (overrides server_url)")
	pf.StringVar(&c.flags.dbPath, "db", "", "path to the local database (overrides db_path)")
	pf.BoolVarP(&c.flags.verbose, "verbose", "v", false, "write debug messages to the log")

	root.AddCommand(
		c.registerCommand(),
		c.loginCommand(),
		c.logoutCommand(),
		c.whoamiCommand(),
		c.recordCommand(),
		c.weighCommand(),
		c.milkCommand(),
		c.statusCommand(),
		c.syncCommand(),
		c.retryCommand(),
		c.amendCommand(),
		c.resolveCommand(),
		c.discardCommand(),
		c.cancelCommand(),
	)

	return root
}

// open загружает конфигурацию, открывает локальную базу и восстанавливает очередь
func (c *Cli) open(ctx context.Context) error {
	if c.reconciler != nil {
		return nil
	}

	cfg, err := config.LoadClient(c.flags.configPath)
	if err != nil {
		return err
	}
	if c.flags.serverURL != "" {
		cfg.ServerURL = c.flags.serverURL
	}
	if c.flags.dbPath != "" {
		cfg.DBPath = c.flags.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	logger, logCloser, err := logging.New(cfg.Log, c.flags.verbose)
	if err != nil {
		return err
	}
	c.logger, c.logCloser = logger, logCloser

	store, err := boltdb.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open local database: %w", err)
	}
	c.store = store

	c.apiClient = api.NewClient(cfg.ServerURL)
	c.authService = auth.NewService(c.apiClient, store, logger)

	// Сессия может отсутствовать, тогда очередь работает только локально
	if _, err := c.authService.Session(ctx); err != nil && !errors.Is(err, auth.ErrNotAuthenticated) {
		logger.Debug("No usable session", slog.Any("error", err))
	}

	queue := outbox.NewQueue(store, logger)
	n, err := queue.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending operations: %w", err)
	}
	logger.Debug("Pending operations restored", "count", n)

	c.reconciler = outbox.NewReconciler(queue, c.apiClient, cfg.OutboxConfig(), logger)
	return nil
}

// goOnline starts the presence monitor and waits until submissions are possible
func (c *Cli) goOnline(ctx context.Context, wait time.Duration) error {
	if c.monitor == nil {
		mctx, cancel := context.WithCancel(context.Background())
		c.stopMonitor = cancel
		c.monitor = connectivity.NewMonitor(c.cfg.ServerURL, c.apiClient.AccessToken,
			c.cfg.Connectivity.ReconnectInterval, c.logger)

		c.background.Add(2)
		go func() {
			defer c.background.Done()
			c.monitor.Run(mctx)
		}()
		go func() {
			defer c.background.Done()
			c.reconciler.Run(mctx, c.monitor.Updates())
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.reconciler.Connectivity().Usable() {
			return nil
		}
		select {
		case <-ctx.Done():
			state := c.monitor.State()
			if state.Online && !state.Authenticated {
				return fmt.Errorf("%w: please run 'farmkeeper login'", ErrServerUnavailable)
			}
			return fmt.Errorf("%w (%s)", ErrServerUnavailable, state)
		case <-ticker.C:
		}
	}
}

// close останавливает фоновые горутины и закрывает базу.
// Операции в полете возвращаются в pending и сохраняются.
func (c *Cli) close() error {
	var errs []error
	if c.stopMonitor != nil {
		c.stopMonitor()
		c.background.Wait()
	}
	if c.reconciler != nil {
		errs = append(errs, c.reconciler.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	if c.logCloser != nil {
		errs = append(errs, c.logCloser.Close())
	}
	return errors.Join(errs...)
}

// resolveID находит операцию по полному correlation id или его префиксу
func (c *Cli) resolveID(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("operation id is required")
	}

	var matches []string
	for _, op := range c.reconciler.Queue().List() {
		if op.CorrelationID == prefix {
			return prefix, nil
		}
		if strings.HasPrefix(op.CorrelationID, prefix) {
			matches = append(matches, op.CorrelationID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no pending operation matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d operations, use a longer prefix", prefix, len(matches))
	}
}

// drain ждет завершения отправок, но не дольше wait
func (c *Cli) drain(ctx context.Context, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := c.reconciler.Drain(ctx); err != nil {
		return fmt.Errorf("operations are still in flight: %w", err)
	}
	return nil
}

// operation returns a snapshot of the operation, nil once it has been removed
func (c *Cli) operation(id string) *models.PendingOperation {
	op, err := c.reconciler.Queue().Get(id)
	if err != nil {
		return nil
	}
	return op
}
