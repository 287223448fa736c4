// Package main provides the tubesync CLI application entry point.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tubesync/internal/core"
)

const defaultSettingsFile = "settings.json"

var (
	cfgFile string
	envFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tubesync",
	Short: "tubesync - YouTube playlists → local music library",
	Long: `tubesync mirrors YouTube playlists into local audio folders. It downloads new entries with yt-dlp,
gives files canonical "Artist - Track (Album)" names, quarantines duplicates and files that left
the playlist, and keeps the download archive consistent with what is on disk.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", defaultSettingsFile, "settings file (JSON, YAML or TOML)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("download-path", "", "base folder for playlist folders")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.Bool("dry-run", false, "preview every change without touching the library")
	flags.Bool("debug", false, "keep yt-dlp logs and batch files in each playlist folder")
	flags.BoolP("yes", "y", false, "answer yes to confirmation prompts")
	flags.Int("workers", core.DefaultMaxWorkers, "parallel metadata lookups during a playlist scan")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address during the run (e.g. :9090)")
	flags.String("cache-backend", core.CacheBackendJSON, "metadata cache backend (json, sqlite, memory)")

	bindings := map[string]string{
		"download_path":  "download-path",
		"log.level":      "log-level",
		"log.format":     "log-format",
		"app.dry_run":    "dry-run",
		"app.debug":      "debug",
		"app.assume_yes": "yes",
		"max_workers":    "workers",
		"server.addr":    "metrics-addr",
		"cache.backend":  "cache-backend",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(newSyncCmd(), newOrganizeCmd(), newGetCmd(), newPurgeCmd())
}

func initConfig() {
	if err := gotenv.Load(envFile); err != nil {
		// Don't exit if .env file doesn't exist, just warn
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", envFile, err)
		}
	}

	viper.SetEnvPrefix("TUBESYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", cfgFile, err)
		}
	}

	var err error
	config, err = buildConfig(viper.GetViper())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid settings in %s: %v\n", cfgFile, err)
		config = core.DefaultConfig()
	}
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

// setDefaults registers every setting so environment variables are picked up for keys
// missing from the settings file.
func setDefaults(v *viper.Viper, cfg *core.Config) {
	v.SetDefault("download_path", cfg.DownloadPath)
	v.SetDefault("max_workers", cfg.MaxWorkers)
	v.SetDefault("cache.backend", cfg.Cache.Backend)
	v.SetDefault("cache.path", cfg.Cache.Path)
	v.SetDefault("ytdlp.binary", cfg.YTDLP.Binary)
	v.SetDefault("ytdlp.cookies", cfg.YTDLP.Cookies)
	v.SetDefault("ytdlp.js_runtime", "")
	v.SetDefault("ytdlp.retries", cfg.YTDLP.Retries)
	v.SetDefault("ytdlp.info_timeout", cfg.YTDLP.InfoTimeout)
	v.SetDefault("ytdlp.scan_timeout", cfg.YTDLP.ScanTimeout)
	v.SetDefault("organize.recent_minutes", cfg.Organize.RecentMinutes)
	v.SetDefault("organize.retag", cfg.Organize.Retag)
	v.SetDefault("inventory.read_tags", cfg.Inventory.ReadTags)
	v.SetDefault("metadata.oembed_fallback", cfg.Metadata.OEmbedFallback)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("app.remove_missing", cfg.App.RemoveMissing)
}

func buildConfig(v *viper.Viper) (*core.Config, error) {
	cfg := core.DefaultConfig()
	setDefaults(v, cfg)

	cfg.DownloadPath = expandHome(v.GetString("download_path"))
	if err := v.UnmarshalKey("playlists", &cfg.Playlists); err != nil {
		return nil, fmt.Errorf("failed to read playlists: %w", err)
	}
	cfg.MaxWorkers = v.GetInt("max_workers")

	configureCache(v, cfg)
	configureYTDLP(v, cfg)
	configureLibrary(v, cfg)
	configureServer(v, cfg)
	configureApp(v, cfg)

	return cfg, nil
}

func configureCache(v *viper.Viper, cfg *core.Config) {
	cfg.Cache.Backend = strings.ToLower(v.GetString("cache.backend"))
	cfg.Cache.Path = expandHome(v.GetString("cache.path"))
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = core.DefaultCacheFile
	}
}

func configureYTDLP(v *viper.Viper, cfg *core.Config) {
	cfg.YTDLP.Binary = v.GetString("ytdlp.binary")
	cfg.YTDLP.Cookies = expandHome(v.GetString("ytdlp.cookies"))
	cfg.YTDLP.JSRuntime = v.GetString("ytdlp.js_runtime")
	cfg.YTDLP.Retries = v.GetInt("ytdlp.retries")
	cfg.YTDLP.InfoTimeout = v.GetDuration("ytdlp.info_timeout")
	cfg.YTDLP.ScanTimeout = v.GetDuration("ytdlp.scan_timeout")
}

func configureLibrary(v *viper.Viper, cfg *core.Config) {
	cfg.Organize.RecentMinutes = v.GetInt("organize.recent_minutes")
	if cfg.Organize.RecentMinutes <= 0 {
		cfg.Organize.RecentMinutes = core.DefaultRecentMinutes
	}
	cfg.Organize.Retag = v.GetBool("organize.retag")
	cfg.Inventory.ReadTags = v.GetBool("inventory.read_tags")
	cfg.Metadata.OEmbedFallback = v.GetBool("metadata.oembed_fallback")
}

func configureServer(v *viper.Viper, cfg *core.Config) {
	cfg.Server.Addr = v.GetString("server.addr")
	cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")
}

func configureApp(v *viper.Viper, cfg *core.Config) {
	cfg.App.DryRun = v.GetBool("app.dry_run")
	cfg.App.Debug = v.GetBool("app.debug")
	cfg.App.AssumeYes = v.GetBool("app.assume_yes")
	cfg.App.RemoveMissing = v.GetBool("app.remove_missing")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	if strings.ToLower(format) != "json" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	}

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}
