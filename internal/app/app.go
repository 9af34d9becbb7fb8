package app

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"seohub/internal/config"
	"seohub/internal/db"
	"seohub/internal/engine"
	"seohub/internal/migrate"
	"seohub/internal/notify"
)

// App bundles the wired process-level pieces: open database, resolved config,
// logger and the Redis client backing the notification queue. Close releases
// everything Bootstrap opened.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Env    config.Env
	Log    *zap.Logger
	Redis  *redis.Client
	Engine engine.Engine
}

// Options tweak Bootstrap for different commands.
type Options struct {
	Workspace string
	// RequireConfig fails when seohub.yml is missing instead of falling back
	// to defaults. The serve command wants explicit policy in production.
	RequireConfig bool
	// Notifications enables the Redis-backed dispatcher. Commands that never
	// send email (migrate, read-only listings) leave it off.
	Notifications bool
}

// Bootstrap opens the workspace database, runs migrations, loads YAML and
// environment config and wires the engine.
func Bootstrap(opts Options) (*App, error) {
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	var cfg *config.Config
	if opts.RequireConfig {
		cfg, err = config.Load(opts.Workspace)
	} else {
		cfg, err = config.LoadOptional(opts.Workspace)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	env, err := config.LoadEnv()
	if err != nil {
		conn.Close()
		return nil, err
	}

	log, err := zap.NewProduction()
	if err != nil {
		conn.Close()
		return nil, err
	}

	a := &App{DB: conn, Config: cfg, Env: env, Log: log}

	var dispatcher notify.Dispatcher = notify.Drop{}
	if opts.Notifications && env.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     env.RedisAddr,
			Password: env.RedisPassword,
		})
		dispatcher = notify.NewRedisDispatcher(a.Redis, cfg.Notifications.QueueName)
	}

	a.Engine = engine.New(conn, cfg, dispatcher, log)
	return a, nil
}

// Close releases the database, Redis client and flushes the logger.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
