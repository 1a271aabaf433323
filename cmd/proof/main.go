package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tweetproof/internal/app"
	"tweetproof/internal/config"
	"tweetproof/internal/domain"
	"tweetproof/internal/engine"
	"tweetproof/internal/logging"
	"tweetproof/internal/metrics"
	"tweetproof/internal/rewards"
	"tweetproof/internal/server"
	"tweetproof/internal/spool"
)

var rootCmd = &cobra.Command{
	Use:   "proof",
	Short: "Tweet proof-of-contribution",
	Long: `proof verifies one tweet submission and attests to its quality.
- run: check uniqueness against the validator index, spot-check a random sample
  of tweets against their live text, score the unique tweets, submit the reward
  and write results.json.
- spool: inspect and replay reward payloads whose delivery failed.
- serve: operator API over the spool with Prometheus metrics.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// overrides resolves config keys from the environment and bound flags.
var overrides = viper.New()

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logrus.WithField("class", engine.KindOf(err).String()).Error(err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	config.LoadEnv(nil, viper.GetStringSlice("env-file")...)
	config.BindEnv(overrides)
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to proof.yml")
	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"}, ".env files to load, later files win")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("env-file", rootCmd.PersistentFlags().Lookup("env-file"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = overrides.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(spoolCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logrus.Entry {
	logger := logging.New(os.Stderr, cfg.LogLevel)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logger.GetLevel())
	return logging.WithService(logger, "proof")
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Verify the first file in the input dir and write results.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateRun(); err != nil {
				return err
			}
			logger := newLogger(cfg)
			deps, err := app.Dial(cfg, logger, metrics.New())
			if err != nil {
				return err
			}
			defer deps.Spool.Close()
			resp, err := app.New(cfg, deps).Run(cmd.Context())
			if err != nil {
				return err
			}
			logger.WithFields(logging.Fields{"valid": resp.Valid, "score": resp.Score}).Info("proof generation complete")
			return printProof(resp)
		},
	}
	cmd.Flags().String("input-dir", "", "directory holding the submission")
	cmd.Flags().String("output-dir", "", "directory for results.json")
	_ = overrides.BindPFlag("input_dir", cmd.Flags().Lookup("input-dir"))
	_ = overrides.BindPFlag("output_dir", cmd.Flags().Lookup("output-dir"))
	return cmd
}

func spoolCmd() *cobra.Command {
	sp := &cobra.Command{Use: "spool", Short: "Inspect and replay undelivered reward payloads"}
	sp.AddCommand(spoolListCmd())
	sp.AddCommand(spoolShowCmd())
	sp.AddCommand(spoolReplayCmd())
	sp.AddCommand(spoolReleaseCmd())
	return sp
}

func spoolListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List spooled payloads, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpool(func(_ *config.Config, sp spool.Spool) error {
				recs, err := sp.List(cmd.Context(), spool.ListOptions{IncludeDrained: all})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "File", "Created", "Drained", "Replaying", "Bytes"})
				for _, r := range recs {
					tw.AppendRow(table.Row{r.ID, r.FileID, r.CreatedAt, orDash(r.DrainedAt), orDash(r.ReplayingAt), len(r.Payload)})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "Total", len(recs)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include drained records (sqlite backend)")
	return cmd
}

func spoolShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a spooled payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpool(func(_ *config.Config, sp spool.Spool) error {
				rec, err := sp.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
}

func spoolReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <id>",
		Short: "Re-send a spooled payload to the rewards ledger",
		Long:  "Sends the stored bytes once with the submit timeout. The record is drained on success and kept on failure.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpool(func(cfg *config.Config, sp spool.Spool) error {
				if cfg.Validator.APIKey == "" {
					return fmt.Errorf("validator api key is required (VOLARA_API_KEY)")
				}
				rec, err := rewards.Replay(cmd.Context(), app.NewValidator(cfg), sp, args[0])
				if err != nil {
					return err
				}
				newLogger(cfg).WithFields(logging.Fields{"spool_id": rec.ID, "file_id": rec.FileID}).Info("spooled reward replayed")
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				fmt.Printf("replayed %s (file %s)\n", rec.ID, rec.FileID)
				return nil
			})
		},
	}
}

func spoolReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <id>",
		Short: "Return a record left claimed by an interrupted replay to pending",
		Long:  "Only release a record after confirming the ledger did not receive its payload, otherwise the next replay credits it twice.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpool(func(cfg *config.Config, sp spool.Spool) error {
				if err := rewards.Release(cmd.Context(), sp, args[0]); err != nil {
					return err
				}
				newLogger(cfg).WithField("spool_id", args[0]).Warn("spool claim released")
				fmt.Printf("released %s\n", args[0])
				return nil
			})
		},
	}
}

func withSpool(fn func(*config.Config, spool.Spool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sp, err := spool.Open(cfg.Spool)
	if err != nil {
		return err
	}
	defer sp.Close()
	return fn(cfg, sp)
}

func serveCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is required for bearer auth (PROOF_SERVER_JWT_SECRET)")
			}
			logger := newLogger(cfg)
			sp, err := spool.Open(cfg.Spool)
			if err != nil {
				return err
			}
			defer sp.Close()
			m := metrics.New()
			handler, err := server.New(server.Config{
				Spool:   sp,
				Ledger:  app.NewValidator(cfg),
				Metrics: m,
				Logger:  logger,
				Auth:    server.AuthConfig{JWTSecret: cfg.Server.JWTSecret},
			})
			if err != nil {
				return err
			}
			server.StartPendingRefresher(cmd.Context(), sp, m, logger, interval)
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.WithField("addr", cfg.Server.Addr).Info("serving operator API (OpenAPI at /v1/openapi.json, Swagger UI at /docs, metrics at /metrics)")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().DurationVar(&interval, "pending-interval", 30*time.Second, "how often to refresh the spool_pending gauge")
	_ = overrides.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := server.IssueToken(cfg.Server.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print the default proof.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault())
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the resolved config with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(c.Redacted())
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the resolved config for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err == nil {
				err = c.ValidateRun()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func printProof(resp domain.ProofResponse) error {
	if viper.GetBool("json") {
		return printJSON(resp)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Valid", "Score", "Uniqueness", "Total", "Unique", "Sampled", "Rejection"})
	tw.AppendRow(table.Row{
		resp.Valid,
		fmt.Sprintf("%.6f", resp.Score),
		fmt.Sprintf("%.4f", resp.Uniqueness),
		resp.Attributes["total_tweets"],
		resp.Attributes["unique_tweets"],
		resp.Attributes["sampled_tweets"],
		orDash(resp.Attributes["rejection"]),
	})
	tw.Render()
	return nil
}

func orDash(v any) any {
	switch t := v.(type) {
	case nil:
		return "-"
	case *string:
		if t == nil {
			return "-"
		}
		return *t
	}
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
