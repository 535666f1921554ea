package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Static holds process-wide settings read once at startup: worker pool
// size, data directories, ingress port, and the background loop timings.
// None of these change without a restart.
type Static struct {
	WorkerCount         int
	PicDir              string
	CbzDir              string
	DatabasePath        string
	IngressAddr         string
	EventBusBufferSize  int
	AutoCleanupInterval time.Duration
	MaxCompletedTasks   int
	FsWatcherDebounce   time.Duration
	LogLevel            string
	LogPath             string
}

// LoadStatic reads configPath (if non-empty) plus TELEGRAB_-prefixed
// environment overrides, the same viper layering shape as the Otus
// example's settings loader.
func LoadStatic(configPath string) (Static, error) {
	v := viper.New()
	v.SetEnvPrefix("TELEGRAB")
	v.AutomaticEnv()

	v.SetDefault("worker_count", 4)
	v.SetDefault("pic_dir", "./data/pics")
	v.SetDefault("cbz_dir", "./data/cbz")
	v.SetDefault("database_path", "./data/telegrab.db")
	v.SetDefault("ingress_addr", ":8080")
	v.SetDefault("event_bus_buffer_size", 1024)
	v.SetDefault("auto_cleanup_interval_secs", 300)
	v.SetDefault("max_completed_tasks", 500)
	v.SetDefault("fs_watcher_debounce_ms", 250)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_path", "./data/telegrab.log")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Static{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	return Static{
		WorkerCount:         v.GetInt("worker_count"),
		PicDir:              v.GetString("pic_dir"),
		CbzDir:              v.GetString("cbz_dir"),
		DatabasePath:        v.GetString("database_path"),
		IngressAddr:         v.GetString("ingress_addr"),
		EventBusBufferSize:  v.GetInt("event_bus_buffer_size"),
		AutoCleanupInterval: time.Duration(v.GetInt("auto_cleanup_interval_secs")) * time.Second,
		MaxCompletedTasks:   v.GetInt("max_completed_tasks"),
		FsWatcherDebounce:   time.Duration(v.GetInt("fs_watcher_debounce_ms")) * time.Millisecond,
		LogLevel:            v.GetString("log_level"),
		LogPath:             v.GetString("log_path"),
	}, nil
}
