package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"seohub/internal/app"
	"seohub/internal/config"
	"seohub/internal/db"
	"seohub/internal/domain"
	"seohub/internal/notify"
	"seohub/internal/repo"
	"seohub/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "seohub",
	Short: "SEOHub CLI",
	Long: `SEOHub ingests fulfillment vendor webhooks and reconciles them against
SEO package requests: deliverables are recorded, per-request counters advance,
and a request flips to completed once its package quota is met. Monthly usage
tallies and email notifications ride along as best-effort side effects.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("SEOHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(usageCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(notifyCmd())
}

func withApp(ctx context.Context, opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	opts.Workspace = viper.GetString("workspace")
	a, err := app.Bootstrap(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func serveCmd() *cobra.Command {
	var basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{Notifications: true}, func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{
					JWTSecret:  a.Env.JWTSecret,
					WebhookKey: a.Env.WebhookAPIKey,
					Logger:     a.Log,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("SEOHUB_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: a.Env.Addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving SEOHub API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", a.Env.Addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				fmt.Println("database up to date at", db.Path(viper.GetString("workspace")))
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect or generate config",
		Long:  "Config is the policy file (seohub.yml): package quota tables per tier and notification settings.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default seohub.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
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
	}
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{Use: "request", Short: "Inspect requests"}
	req.AddCommand(requestListCmd())
	req.AddCommand(requestShowCmd())
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestEventsCmd())
	return req
}

func requestListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListRequests(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "External", "Title", "Status", "Package", "Pages", "Blogs", "GBP", "Impr"})
				for _, r := range items {
					pkg := ""
					if r.PackageType != nil {
						pkg = *r.PackageType
					}
					tw.AppendRow(table.Row{r.ID, r.ExternalID, r.Title, r.Status, pkg,
						r.PagesCompleted, r.BlogsCompleted, r.GBPPostsCompleted, r.ImprovementsCompleted})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func requestShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show one request with its completed tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.Repo.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				tasks, err := a.Engine.Repo.ListCompletedTasks(ctx, r.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"request": r, "completed_tasks": tasks})
				}
				if err := printJSON(r); err != nil {
					return err
				}
				if len(tasks) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Title", "Type", "URL", "Completed At"})
					for _, t := range tasks {
						url := ""
						if t.URL != nil {
							url = *t.URL
						}
						tw.AppendRow(table.Row{t.ID, t.Title, t.Type, url, t.CompletedAt})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
	return cmd
}

func requestCreateCmd() *cobra.Command {
	var userID, dealershipID, externalID, title, reqType, packageType string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a request (focus/onboarding side normally does this)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || externalID == "" || title == "" {
				return fmt.Errorf("--user, --external-id and --title are required")
			}
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				now := time.Now().UTC().Format(time.RFC3339)
				r := domain.Request{
					ID:         uuid.NewString(),
					UserID:     userID,
					ExternalID: externalID,
					Title:      title,
					Type:       reqType,
					Status:     domain.StatusPending,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if dealershipID != "" {
					r.DealershipID = &dealershipID
				}
				if packageType != "" {
					pkg := strings.ToLower(packageType)
					r.PackageType = &pkg
				}
				if err := a.Engine.Repo.InsertRequest(ctx, r); err != nil {
					return err
				}
				return printJSON(r)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	cmd.Flags().StringVar(&dealershipID, "dealership", "", "dealership id")
	cmd.Flags().StringVar(&externalID, "external-id", "", "vendor correlation id")
	cmd.Flags().StringVar(&title, "title", "", "request title")
	cmd.Flags().StringVar(&reqType, "type", "", "request type")
	cmd.Flags().StringVar(&packageType, "package", "", "package tier (silver|gold|platinum)")
	return cmd
}

func requestEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <request-id>",
		Short: "Show the audit log for one request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListRequestEvents(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Actor", "Payload"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max rows")
	return cmd
}

func usageCmd() *cobra.Command {
	usage := &cobra.Command{Use: "usage", Short: "Inspect monthly usage tallies"}
	usage.AddCommand(usageShowCmd())
	return usage
}

func usageShowCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "show <scope-kind> <scope-id>",
		Short: "Show usage counters for a dealership or user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scopeKind := args[0]
			if scopeKind != repo.ScopeDealership && scopeKind != repo.ScopeUser {
				return fmt.Errorf("scope-kind must be %q or %q", repo.ScopeDealership, repo.ScopeUser)
			}
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListUsage(ctx, scopeKind, args[1], period)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Period", "Usage Key", "Count"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.Period, c.UsageKey, c.Count})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "period filter (YYYY-MM)")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys for dashboard access"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the plaintext is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				return fmt.Errorf("--actor is required")
			}
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				plaintext := uuid.NewString() + uuid.NewString()
				rec := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				return printJSON(map[string]string{"id": rec.ID, "actor_id": rec.ActorID, "key": plaintext})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created At"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func notifyCmd() *cobra.Command {
	n := &cobra.Command{Use: "notify", Short: "Notification queue tooling"}
	n.AddCommand(notifyWorkerCmd())
	return n
}

func notifyWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the email delivery worker",
		Long:  "Drains the Redis email queue and posts each job to SEOHUB_EMAIL_GATEWAY_URL. Without a gateway, jobs are logged and dropped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.LoadEnv()
			if err != nil {
				return err
			}
			if env.RedisAddr == "" {
				return fmt.Errorf("SEOHUB_REDIS_ADDR is required for the delivery worker")
			}
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			log, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer log.Sync()
			rdb := redis.NewClient(&redis.Options{Addr: env.RedisAddr, Password: env.RedisPassword})
			defer rdb.Close()
			w := notify.NewWorker(rdb, cfg.Notifications.QueueName, env.EmailGatewayURL, log)
			err = w.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
