package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ordersms/internal/auth"
	"ordersms/internal/config"
	httpapi "ordersms/internal/http"
	"ordersms/internal/logging"
	"ordersms/internal/notify"
	"ordersms/internal/repository"
	"ordersms/internal/service"

	_ "ordersms/docs"
)

// @title Orders SMS API
// @version 1.0
// @description Customers and orders; every created order triggers one SMS to the customer.
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ordersms",
		Short:        "Customers and orders API with SMS notifications",
		SilenceUsage: true,
	}
	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(serveCmd(), migrateCmd())
	return root
}

// bootstrap общая часть команд: конфиг, логгер, хранилище со схемой.
// validate включает полную проверку конфига (serve требует аутентификацию).
func bootstrap(cmd *cobra.Command, validate bool) (config.Config, *zap.Logger, *repository.Stores, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return cfg, nil, nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return cfg, nil, nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cfg, nil, nil, err
	}
	stores, err := repository.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return cfg, log, nil, fmt.Errorf("open storage: %w", err)
	}
	if err := stores.Migrate(cmd.Context()); err != nil {
		_ = stores.Close()
		return cfg, log, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("storage ready", zap.String("driver", cfg.Storage.Driver))
	return cfg, log, stores, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the storage schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, stores, err := bootstrap(cmd, false)
			if err != nil {
				return err
			}
			defer log.Sync()
			return stores.Close()
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return serve(cmd)
		},
	}
}

func serve(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, log, stores, err := bootstrap(cmd, true)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer stores.Close()

	authn, err := authenticator(ctx, cfg.Auth, log)
	if err != nil {
		return err
	}

	var notifier service.Notifier = notify.NewNop(log)
	if cfg.SMS.URL != "" {
		notifier = notify.NewSMSClient(notify.Config{
			URL:      cfg.SMS.URL,
			APIKey:   cfg.SMS.APIKey,
			Username: cfg.SMS.Username,
			SenderID: cfg.SMS.SenderID,
			Timeout:  cfg.SMS.Timeout,
		}, log)
	}

	customersSvc := service.NewCustomerService(stores.Customers, stores.Orders, stores.Tx, log)
	ordersSvc := service.NewOrderService(stores.Customers, stores.Orders, stores.Tx, notifier, log,
		service.WithNotifyTimeout(cfg.SMS.Timeout))

	gin.SetMode(gin.ReleaseMode)
	srv := httpapi.NewServer(customersSvc, ordersSvc, authn, log, cfg.HTTP.AllowedHosts...)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: srv.Engine(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
		return err
	}
	return nil
}

func authenticator(ctx context.Context, cfg config.Auth, log *zap.Logger) (auth.Authenticator, error) {
	var chain auth.Chain
	if cfg.OIDCIssuer != "" {
		a, err := auth.NewOIDC(ctx, cfg.OIDCIssuer, cfg.OIDCAudience)
		if err != nil {
			return nil, err
		}
		chain = append(chain, a)
		log.Info("oidc authentication enabled", zap.String("issuer", cfg.OIDCIssuer))
	}
	if len(cfg.StaticTokens) > 0 {
		chain = append(chain, auth.NewStaticTokens(cfg.StaticTokens))
		log.Info("static token authentication enabled", zap.Int("tokens", len(cfg.StaticTokens)))
	}
	return chain, nil
}
