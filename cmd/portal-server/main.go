package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/resonantbio/portal/internal/config"
	"github.com/resonantbio/portal/internal/domain/auditlog"
	"github.com/resonantbio/portal/internal/domain/identity"
	"github.com/resonantbio/portal/internal/domain/order"
	"github.com/resonantbio/portal/internal/domain/organization"
	"github.com/resonantbio/portal/internal/domain/patient"
	"github.com/resonantbio/portal/internal/platform/audit"
	"github.com/resonantbio/portal/internal/platform/auth"
	"github.com/resonantbio/portal/internal/platform/blobstore"
	"github.com/resonantbio/portal/internal/platform/db"
	"github.com/resonantbio/portal/internal/platform/labbridge"
	"github.com/resonantbio/portal/internal/platform/middleware"
	"github.com/resonantbio/portal/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Clinic ordering portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepLicensesCmd())
	rootCmd.AddCommand(bridgeCmd())
	rootCmd.AddCommand(serviceTypeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// sweepLicensesCmd expires due licenses and notifies their holders. Meant to
// run from cron; the server does not run the sweep on its own.
func sweepLicensesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-licenses",
		Short: "Expire licenses whose expiration date has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			app := buildApp(pool)
			n, err := app.identitySvc.ExpireDueLicenses(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Expired %d license(s).\n", n)
			return nil
		},
	}
}

func bridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Exchange orders and results with the lab",
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Push finalized orders to the lab and pull completed results",
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetDuration("results-since")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.LabBridgeURL == "" {
				return fmt.Errorf("LAB_BRIDGE_URL is not configured")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			app := buildApp(pool)
			client := labbridge.NewClient(cfg.LabBridgeURL, cfg.LabBridgeAPIKey, cfg.LabBridgeTimeout)

			ready, err := app.orderRepo.ListReadyForLab(ctx)
			if err != nil {
				return err
			}
			if len(ready) > 0 {
				ids := make([]string, 0, len(ready))
				for _, o := range ready {
					ids = append(ids, o.OrderID)
				}
				subs, err := client.PushSubmissions(ctx, ids)
				if err != nil {
					return err
				}
				res := app.orderSvc.SubmitToLab(ctx, subs)
				fmt.Printf("Submitted %d order(s), %d failure(s).\n", res.Succeeded, len(res.Failures))
				for _, f := range res.Failures {
					fmt.Printf("  %s: %s\n", f.Ref, f.Message)
				}
			} else {
				fmt.Println("No orders ready for submission.")
			}

			results, err := client.FetchResults(ctx, time.Now().Add(-since))
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No new results.")
				return nil
			}
			res := app.orderSvc.RecordLabResults(ctx, results)
			fmt.Printf("Recorded %d result(s), %d failure(s).\n", res.Succeeded, len(res.Failures))
			for _, f := range res.Failures {
				fmt.Printf("  %s: %s\n", f.Ref, f.Message)
			}
			return nil
		},
	}
	syncCmd.Flags().Duration("results-since", 24*time.Hour, "How far back to query the lab for results")
	cmd.AddCommand(syncCmd)

	return cmd
}

func serviceTypeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service-type",
		Short: "Manage the service type catalog",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Add a service type to the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			code, _ := cmd.Flags().GetString("code")
			price, _ := cmd.Flags().GetInt64("price")
			kind, _ := cmd.Flags().GetString("specimen-kind")
			if name == "" || code == "" {
				return fmt.Errorf("--name and --code are required")
			}
			if price <= 0 {
				return fmt.Errorf("--price must be a positive amount in cents")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			st := &order.ServiceType{Name: name, Code: code, Price: price, SpecimenKind: kind}
			if err := order.NewServiceTypeRepoPG(pool).Create(ctx, st); err != nil {
				return err
			}
			fmt.Printf("Created service type %s (%s)\n", st.ID, st.Code)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("code", "", "Catalog code")
	createCmd.Flags().Int64("price", 0, "Base price in cents")
	createCmd.Flags().String("specimen-kind", "saliva", "Specimen kind collected by the kit")
	cmd.AddCommand(createCmd)

	return cmd
}

// app holds the wired services shared by the server and the CLI commands.
type app struct {
	orgSvc      *organization.Service
	identitySvc *identity.Service
	patientSvc  *patient.Service
	orderSvc    *order.Service
	auditSvc    *auditlog.Service

	orderRepo order.OrderRepository
	notifier  *notification.PortalNotifier
	manager   *notification.Manager
}

func buildApp(pool *pgxpool.Pool) *app {
	orgRepo := organization.NewRepoPG(pool)
	addressRepo := organization.NewAddressRepoPG(pool)
	employeeRepo := identity.NewEmployeeRepoPG(pool)
	accountRepo := identity.NewAccountRepoPG(pool)
	licenseRepo := identity.NewLicenseRepoPG(pool)
	patientRepo := patient.NewRepoPG(pool)
	serviceTypeRepo := order.NewServiceTypeRepoPG(pool)
	orderRepo := order.NewOrderRepoPG(pool)
	requestRepo := order.NewServiceRequestRepoPG(pool)
	specimenRepo := order.NewSpecimenRepoPG(pool)
	adjustmentRepo := order.NewAdjustmentRepoPG(pool)
	auditRepo := auditlog.NewRepoPG(pool)

	interceptor := audit.NewInterceptor(pool, auditRepo)

	manager := notification.NewManager(notification.LogEmailSender{}, notification.NewTemplateEngine())
	notifier := notification.NewPortalNotifier(manager, orgRepo, employeeRepo)

	orgSvc := organization.NewService(orgRepo, addressRepo, interceptor)
	identitySvc := identity.NewService(employeeRepo, accountRepo, licenseRepo, interceptor, notifier)
	patientSvc := patient.NewService(patientRepo, interceptor)
	orderSvc := order.NewService(
		serviceTypeRepo, orderRepo, requestRepo, specimenRepo, adjustmentRepo,
		patientRepo, accountRepo, identitySvc, interceptor, notifier,
	)
	auditSvc := auditlog.NewService(auditRepo)

	return &app{
		orgSvc:      orgSvc,
		identitySvc: identitySvc,
		patientSvc:  patientSvc,
		orderSvc:    orderSvc,
		auditSvc:    auditSvc,
		orderRepo:   orderRepo,
		notifier:    notifier,
		manager:     manager,
	}
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	app := buildApp(pool)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		devOrg := uuid.New()
		if raw := os.Getenv("DEV_ORG_ID"); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				devOrg = id
			}
		}
		logger.Warn().Str("org_id", devOrg.String()).Msg("dev auth enabled, all requests act as admin")
		e.Use(auth.DevAuthMiddleware(devOrg))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	organization.NewHandler(app.orgSvc).RegisterRoutes(apiV1)
	identity.NewHandler(app.identitySvc).RegisterRoutes(apiV1)
	patient.NewHandler(app.patientSvc).RegisterRoutes(apiV1)
	auditlog.NewHandler(app.auditSvc).RegisterRoutes(apiV1)

	orderHandler := order.NewHandler(app.orderSvc)
	orderHandler.RegisterRoutes(apiV1)
	orderHandler.RegisterBridgeRoutes(apiV1)

	blobstore.NewBlobHandler(blobstore.NewInMemoryBlobStore()).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
