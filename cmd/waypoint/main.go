package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/waypoint/internal/auth"
	"github.com/MarcoPoloResearchLab/waypoint/internal/config"
	"github.com/MarcoPoloResearchLab/waypoint/internal/credential"
	"github.com/MarcoPoloResearchLab/waypoint/internal/database"
	"github.com/MarcoPoloResearchLab/waypoint/internal/location"
	"github.com/MarcoPoloResearchLab/waypoint/internal/logging"
	"github.com/MarcoPoloResearchLab/waypoint/internal/mail"
	"github.com/MarcoPoloResearchLab/waypoint/internal/maintenance"
	"github.com/MarcoPoloResearchLab/waypoint/internal/monitor"
	"github.com/MarcoPoloResearchLab/waypoint/internal/notify"
	"github.com/MarcoPoloResearchLab/waypoint/internal/records"
	"github.com/MarcoPoloResearchLab/waypoint/internal/server"
	"github.com/MarcoPoloResearchLab/waypoint/internal/theme"
	"github.com/MarcoPoloResearchLab/waypoint/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "waypoint",
		Short: "Waypoint tasks, notes and location reminders agent",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newSecretCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env and keyring)")
	cmd.PersistentFlags().String("issuer", defaults.GetString("auth.issuer"), "Expected session token issuer")
	cmd.PersistentFlags().Int64("monitor-min-interval-ms", defaults.GetInt64("monitor.min_interval_ms"), "Minimum time between location deliveries")
	cmd.PersistentFlags().Float64("monitor-min-displacement-m", defaults.GetFloat64("monitor.min_displacement_m"), "Minimum movement between location deliveries")
	cmd.PersistentFlags().Float64("hysteresis-margin-m", defaults.GetFloat64("monitor.hysteresis_margin_m"), "Distance past the radius that re-arms a reminder")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("notify.redis_address"), "Redis address for alert dedupe (memory when empty)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "issuer")
	bindFlag(cmd, "monitor.min_interval_ms", "monitor-min-interval-ms")
	bindFlag(cmd, "monitor.min_displacement_m", "monitor-min-displacement-m")
	bindFlag(cmd, "monitor.hysteresis_margin_m", "hysteresis-margin-m")
	bindFlag(cmd, "notify.redis_address", "redis-address")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newSecretCommand() *cobra.Command {
	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the session signing secret in the OS keyring",
	}
	secretCmd.AddCommand(&cobra.Command{
		Use:   "set <value>",
		Short: "Store the session signing secret",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credential.Open(viper.GetString("credential.file_password"))
			if err != nil {
				return err
			}
			if err := store.Set(credential.SigningSecretKey, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signing secret stored")
			return nil
		},
	})
	secretCmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the session signing secret",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credential.Open(viper.GetString("credential.file_password"))
			if err != nil {
				return err
			}
			if err := store.Delete(credential.SigningSecretKey); err != nil && !errors.Is(err, credential.ErrNotFound) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signing secret removed")
			return nil
		},
	})
	return secretCmd
}

// openSecrets returns the keyring store, or nil when no keyring backend is usable.
func openSecrets(configViper *viper.Viper) config.SecretSource {
	store, err := credential.Open(configViper.GetString("credential.file_password"))
	if err != nil {
		return nil
	}
	return store
}

func runAgent(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper(), openSecrets(viper.GetViper()))
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		CookieName:    appConfig.CookieName,
		Issuer:        appConfig.Issuer,
	})
	if err != nil {
		return err
	}
	sessions := auth.NewSessions(time.Now)

	recordService, err := records.NewService(records.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: records.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := notify.NewDispatcher()
	scheduler := maintenance.NewScheduler(logger)

	var dedupeStore notify.DedupeStore
	if appConfig.RedisAddress != "" {
		redisStore, err := notify.DialRedisDedupeStore(signalCtx, appConfig.RedisAddress)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		dedupeStore = redisStore
	} else {
		memoryStore := notify.NewMemoryDedupeStore(time.Now)
		if err := scheduler.Add(maintenance.DedupeSweepJob(memoryStore, appConfig.SweepInterval, logger)); err != nil {
			return err
		}
		dedupeStore = memoryStore
	}
	if err := scheduler.Add(maintenance.SessionExpiryJob(sessions, appConfig.SweepInterval, logger)); err != nil {
		return err
	}

	emitter, err := notify.NewDeduper(notify.DedupeConfig{
		Next:   notify.Fanout{notify.LogEmitter{Logger: logger}, dispatcher},
		Store:  dedupeStore,
		Window: appConfig.DedupeWindow,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	feed := location.NewFeed(location.FeedConfig{
		PermissionGranted: true,
		Clock:             time.Now,
		Logger:            logger,
	})

	locationMonitor, err := monitor.New(monitor.Config{
		Provider:              feed,
		Emitter:               emitter,
		Sessions:              sessions,
		Logger:                logger,
		MinInterval:           appConfig.MonitorMinInterval,
		MinDisplacementMeters: appConfig.MonitorMinDisplacementM,
		HysteresisMargin:      appConfig.MonitorHysteresisMarginM,
		Clock:                 time.Now,
	})
	if err != nil {
		return err
	}

	mailer, err := newMailer(appConfig.Mail, logger)
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Validator: validator,
		Sessions:  sessions,
		Users:     userService,
		Records:   recordService,
		Monitor:   locationMonitor,
		Feed:      feed,
		Alerts:    dispatcher,
		Theme:     theme.NewSelector(appConfig.ThemeDarkBelowLux, logger),
		Logger:    logger,
	}
	if mailer != nil {
		deps.Mailer = mailer
	}
	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return locationMonitor.Run(groupCtx)
	})
	group.Go(func() error {
		return scheduler.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// newMailer builds the reset sender from whichever channels are configured. It returns nil when none are.
func newMailer(cfg config.MailConfig, logger *zap.Logger) (*mail.Sender, error) {
	var primary, fallback mail.Channel
	if cfg.PrimaryConfigured() {
		channel, err := mail.NewHTTPChannel(mail.HTTPChannelConfig{
			URL:        cfg.PrimaryURL,
			ServiceID:  cfg.PrimaryServiceID,
			TemplateID: cfg.PrimaryTemplateID,
			PublicKey:  cfg.PrimaryPublicKey,
			Client:     &http.Client{Timeout: cfg.Timeout},
		})
		if err != nil {
			return nil, err
		}
		primary = channel
	}
	if cfg.SMTPConfigured() {
		channel, err := mail.NewSMTPChannel(mail.SMTPChannelConfig{
			Address:  cfg.SMTPAddress,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
		})
		if err != nil {
			return nil, err
		}
		fallback = channel
	}
	if primary == nil && fallback == nil {
		logger.Warn("password reset mail is not configured")
		return nil, nil
	}
	return mail.NewSender(mail.SenderConfig{
		Primary:  primary,
		Fallback: fallback,
		ResetURL: cfg.ResetURL,
		Logger:   logger,
	})
}
