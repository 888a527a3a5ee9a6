package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adgyapan/escrow/internal/httpapi"
	"github.com/adgyapan/escrow/internal/store/migrations"
	"github.com/adgyapan/escrow/internal/sweeper"
	"github.com/adgyapan/escrow/pkg/escrow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix = "ESCROWD"

	flagDatabaseURL         = "database-url"
	flagStoreDriver         = "store-driver"
	flagListenAddr          = "listen-addr"
	flagAllowedOrigins      = "allowed-origins"
	flagJWTSigningKey       = "jwt-signing-key"
	flagJWTIssuer           = "jwt-issuer"
	flagJWTCookieName       = "jwt-cookie-name"
	flagRequestTimeout      = "request-timeout"
	flagCommissionRate      = "commission-rate"
	flagPlatformAccount     = "platform-account"
	flagPremiumPlans        = "premium-plans"
	flagRedisAddr           = "redis-addr"
	flagRedisPassword       = "redis-password"
	flagRedisDB             = "redis-db"
	flagEligibilityCacheTTL = "eligibility-cache-ttl"
	flagNotifyChannel       = "notify-channel"
	flagSweepSchedule       = "sweep-schedule"
	flagSweepBatch          = "batch-size"
	flagUser                = "user"
	flagKYC                 = "kyc"
	flagPlan                = "plan"
	flagSubscriptionStatus  = "subscription-status"

	storeDriverGorm = "gorm"
	storeDriverPgx  = "pgx"

	defaultDatabaseURL    = "sqlite:///tmp/escrow.db"
	defaultListenAddr     = ":8080"
	defaultJWTIssuer      = "tauth"
	defaultJWTCookieName  = "app_session"
	defaultRequestTimeout = 5 * time.Second
	defaultNotifyChannel  = "escrow.events"
	defaultCacheTTL       = time.Minute
)

type runtimeConfig struct {
	DatabaseURL         string
	StoreDriver         string
	ListenAddr          string
	AllowedOrigins      []string
	JWTSigningKey       string
	JWTIssuer           string
	JWTCookieName       string
	RequestTimeout      time.Duration
	Commission          escrow.Commission
	PlatformAccount     escrow.UserID
	PremiumPlans        []string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	EligibilityCacheTTL time.Duration
	NotifyChannel       string
	SweepSchedule       string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "escrowd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "escrowd",
		Short:         "Ad inventory marketplace escrow service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL or sqlite path")
	flags.String(flagStoreDriver, storeDriverGorm, "store implementation: gorm or pgx (pgx requires PostgreSQL)")
	flags.String(flagCommissionRate, escrow.DefaultCommissionRate, "platform commission rate in [0,1)")
	flags.String(flagPlatformAccount, escrow.DefaultPlatformAccount, "account credited with commission")
	flags.String(flagPremiumPlans, escrow.DefaultPremiumPlan, "comma-separated subscription plans allowed to bid")
	flags.String(flagRedisAddr, "", "Redis address; empty disables the eligibility cache and event publisher")
	flags.String(flagRedisPassword, "", "Redis password")
	flags.Int(flagRedisDB, 0, "Redis database")
	flags.Duration(flagEligibilityCacheTTL, defaultCacheTTL, "eligibility cache TTL")
	flags.String(flagNotifyChannel, defaultNotifyChannel, "Redis channel for marketplace events")

	cmd.AddCommand(
		newServeCommand(cfg),
		newMigrateCommand(cfg),
		newEnrollCommand(cfg),
		newSweepCommand(cfg),
	)
	return cmd
}

func newServeCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiry sweeper",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "session JWT signing key")
	cmd.Flags().String(flagJWTIssuer, defaultJWTIssuer, "session JWT issuer")
	cmd.Flags().String(flagJWTCookieName, defaultJWTCookieName, "session cookie name")
	cmd.Flags().Duration(flagRequestTimeout, defaultRequestTimeout, "per-request timeout")
	cmd.Flags().String(flagSweepSchedule, sweeper.DefaultSchedule, "cron spec for the expiry sweeper; empty disables it")
	return cmd
}

func newMigrateCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down|status|version|reset]",
		Short: "Apply database migrations",
		Args:  cobra.MaximumNArgs(2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := migrations.CommandUp
			if len(args) > 0 {
				command = args[0]
			}
			return runMigrate(cmd.Context(), cfg, command, args[min(len(args), 1):]...)
		},
	}
}

func newEnrollCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Record a user's verification and subscription status",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := parseEnrollment(cmd)
			if err != nil {
				return err
			}
			return runEnroll(cmd.Context(), cfg, request)
		},
	}
	cmd.Flags().String(flagUser, "", "user id")
	cmd.Flags().String(flagKYC, string(escrow.KYCStatusApproved), "kyc status: none, pending, approved, rejected")
	cmd.Flags().String(flagPlan, "", "subscription plan")
	cmd.Flags().String(flagSubscriptionStatus, escrow.SubscriptionStatusActive, "subscription status")
	return cmd
}

func newSweepCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Close expired listings once and refund their escrow",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			batchSize, err := cmd.Flags().GetInt(flagSweepBatch)
			if err != nil {
				return err
			}
			return runSweep(cmd.Context(), cfg, cmd.OutOrStdout(), batchSize)
		},
	}
	cmd.Flags().Int(flagSweepBatch, 100, "listings settled per batch")
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagSet := range []*pflag.FlagSet{cmd.InheritedFlags(), cmd.Flags()} {
		if err := v.BindPFlags(flagSet); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = v.GetString(flagDatabaseURL)
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(v.GetString(flagStoreDriver)))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = storeDriverGorm
	}
	if cfg.StoreDriver != storeDriverGorm && cfg.StoreDriver != storeDriverPgx {
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}

	commission, err := escrow.ParseCommission(v.GetString(flagCommissionRate))
	if err != nil {
		return err
	}
	cfg.Commission = commission
	platformAccount, err := escrow.NewUserID(v.GetString(flagPlatformAccount))
	if err != nil {
		return fmt.Errorf("platform account: %w", err)
	}
	cfg.PlatformAccount = platformAccount
	cfg.PremiumPlans = splitList(v.GetString(flagPremiumPlans))
	if len(cfg.PremiumPlans) == 0 {
		return fmt.Errorf("at least one premium plan is required")
	}

	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.RedisPassword = v.GetString(flagRedisPassword)
	cfg.RedisDB = v.GetInt(flagRedisDB)
	cfg.EligibilityCacheTTL = v.GetDuration(flagEligibilityCacheTTL)
	cfg.NotifyChannel = v.GetString(flagNotifyChannel)

	cfg.ListenAddr = v.GetString(flagListenAddr)
	cfg.AllowedOrigins = httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.JWTSigningKey = v.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = v.GetString(flagJWTIssuer)
	cfg.JWTCookieName = v.GetString(flagJWTCookieName)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.SweepSchedule = strings.TrimSpace(v.GetString(flagSweepSchedule))
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func runServe(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	deps, err := openDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	service, err := deps.newService(cfg, logger)
	if err != nil {
		return err
	}

	if cfg.SweepSchedule != "" {
		expirySweeper, err := sweeper.New(service, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := expirySweeper.Run(ctx, cfg.SweepSchedule); err != nil {
				logger.Error("expiry sweeper stopped", zap.Error(err))
			}
		}()
	}

	httpCfg := httpapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    cfg.AllowedOrigins,
		SessionSigningKey: cfg.JWTSigningKey,
		SessionIssuer:     cfg.JWTIssuer,
		SessionCookieName: cfg.JWTCookieName,
		RequestTimeout:    cfg.RequestTimeout,
	}
	metricsHandler := promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{})
	return httpapi.Run(ctx, httpCfg, service, logger, metricsHandler)
}

func runSweep(ctx context.Context, cfg *runtimeConfig, out io.Writer, batchSize int) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	deps, err := openDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	service, err := deps.newService(cfg, logger)
	if err != nil {
		return err
	}
	expirySweeper, err := sweeper.New(service, logger, sweeper.WithBatchSize(batchSize))
	if err != nil {
		return err
	}
	closed, err := expirySweeper.RunOnce(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "closed %d expired listings\n", closed)
	return err
}

type enrollmentRequest struct {
	UserID       escrow.UserID
	Enrollment   escrow.Enrollment
	Subscription escrow.Subscription
}

func parseEnrollment(cmd *cobra.Command) (enrollmentRequest, error) {
	rawUser, _ := cmd.Flags().GetString(flagUser)
	rawKYC, _ := cmd.Flags().GetString(flagKYC)
	plan, _ := cmd.Flags().GetString(flagPlan)
	status, _ := cmd.Flags().GetString(flagSubscriptionStatus)

	userID, err := escrow.NewUserID(rawUser)
	if err != nil {
		return enrollmentRequest{}, err
	}
	kycStatus, err := escrow.ParseKYCStatus(rawKYC)
	if err != nil {
		return enrollmentRequest{}, err
	}
	return enrollmentRequest{
		UserID:       userID,
		Enrollment:   escrow.Enrollment{KYCStatus: kycStatus},
		Subscription: escrow.Subscription{Plan: strings.TrimSpace(plan), Status: strings.TrimSpace(status)},
	}, nil
}

func runEnroll(ctx context.Context, cfg *runtimeConfig, request enrollmentRequest) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	deps, err := openDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	if err := deps.backend.SaveEnrollment(ctx, request.UserID, request.Enrollment, request.Subscription, time.Now().UTC().Unix()); err != nil {
		return fmt.Errorf("save enrollment: %w", err)
	}
	if deps.eligibilityCache != nil {
		if err := deps.eligibilityCache.Invalidate(ctx, request.UserID); err != nil {
			logger.Warn("eligibility cache not invalidated", zap.Error(err))
		}
	}
	logger.Info("enrollment saved",
		zap.String("user_id", request.UserID.String()),
		zap.String("kyc_status", request.Enrollment.KYCStatus.String()),
		zap.String("plan", request.Subscription.Plan),
	)
	return nil
}
