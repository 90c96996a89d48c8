package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/commentpilot/user-service/internal/analytics"
	"github.com/commentpilot/user-service/internal/cache"
	"github.com/commentpilot/user-service/internal/config"
	"github.com/commentpilot/user-service/internal/database"
	"github.com/commentpilot/user-service/internal/logging"
	"github.com/commentpilot/user-service/internal/models"
	"github.com/commentpilot/user-service/internal/notify"
	"github.com/commentpilot/user-service/internal/services"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "trialctl",
	Short:         "Operate the CommentPilot trial lifecycle",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trialctl %s\n", Version)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiration sweep and print its stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := connect()
		if err != nil {
			return err
		}
		defer env.close()

		locker := cache.Locker(cache.NoopLocker{})
		if env.cfg.RedisAddr != "" {
			redisLocker, err := cache.NewRedisLocker(cmd.Context(), cache.RedisOptions{
				Addr:     env.cfg.RedisAddr,
				Password: env.cfg.RedisPassword,
				DB:       env.cfg.RedisDB,
			})
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			defer redisLocker.Close()
			locker = redisLocker
		}

		sweeper := services.NewTrialSweeper(env.db, env.trials, env.mailer, locker, env.cfg.ReminderRatePerSec, env.cfg.SweepLockTTL)
		return printJSON(sweeper.Sweep(cmd.Context()))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <user-id|email>",
	Short: "Show the trial status of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := connect()
		if err != nil {
			return err
		}
		defer env.close()

		user, err := findUser(env.db, args[0])
		if err != nil {
			return err
		}
		return printJSON(env.trials.Status(user))
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <user-id|email>",
	Short: "List plan changes of a user, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := connect()
		if err != nil {
			return err
		}
		defer env.close()

		user, err := findUser(env.db, args[0])
		if err != nil {
			return err
		}
		entries, err := env.recorder.History(cmd.Context(), user.ID, historyLimit)
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of entries")
	rootCmd.AddCommand(versionCmd, sweepCmd, statusCmd, historyCmd)
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type environment struct {
	cfg      *config.Config
	db       *gorm.DB
	recorder *services.RoleRecorder
	trials   *services.TrialService
	mailer   *notify.Mailer
	close    func()
}

func connect() (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.AppEnv)

	if err := database.Connect(cfg); err != nil {
		return nil, err
	}

	var sender notify.Sender = notify.LogSender{}
	if cfg.SMTPHost != "" {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  cfg.SMTPTimeout,
		})
	}

	mailer := notify.NewMailer(sender, cfg.FrontendURL)
	recorder := services.NewRoleRecorder(database.DB)
	sink, closeSink := analytics.Open(cfg.AMQPURL, cfg.AMQPExchange)
	trials := services.NewTrialService(database.DB, recorder, services.UserFieldBilling{}, mailer, sink)
	return &environment{
		cfg:      cfg,
		db:       database.DB,
		recorder: recorder,
		trials:   trials,
		mailer:   mailer,
		close: func() {
			closeSink()
			_ = database.Close()
		},
	}, nil
}

func findUser(db *gorm.DB, key string) (*models.User, error) {
	var user models.User
	query := db.Unscoped()
	if id, err := uuid.Parse(key); err == nil {
		query = query.Where("id = ?", id)
	} else {
		query = query.Where("email = ?", key)
	}
	if err := query.First(&user).Error; err != nil {
		return nil, fmt.Errorf("user %q: %w", key, err)
	}
	return &user, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
