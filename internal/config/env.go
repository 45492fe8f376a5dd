package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// applyEnv overlays DOCPRESS_* environment variables onto cfg. A .env file
// at the project root is loaded first without clobbering the real
// environment, so shell-set variables always win.
func applyEnv(cfg *Config, root string) error {
	envFile := filepath.Join(root, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	setString(&cfg.SourceDir, "DOCPRESS_SOURCE_DIR")
	setString(&cfg.OutputDir, "DOCPRESS_OUTPUT_DIR")
	setString(&cfg.LaTeXEngine, "DOCPRESS_LATEX_ENGINE")
	setString(&cfg.NATS.URL, "DOCPRESS_NATS_URL")
	setString(&cfg.NATS.Subject, "DOCPRESS_NATS_SUBJECT")
	setString(&cfg.Metrics.Listen, "DOCPRESS_METRICS_LISTEN")
	setString(&cfg.Logging.Level, "DOCPRESS_LOG_LEVEL")
	setString(&cfg.Logging.Format, "DOCPRESS_LOG_FORMAT")

	if v := os.Getenv("DOCPRESS_TARGETS"); v != "" {
		var targets []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				targets = append(targets, t)
			}
		}
		cfg.Targets = targets
	}
	if err := setInt(&cfg.ProcessSlots, "DOCPRESS_PROCESS_SLOTS"); err != nil {
		return err
	}
	if err := setInt(&cfg.LightSlots, "DOCPRESS_LIGHT_SLOTS"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Timeouts.Default, "DOCPRESS_TIMEOUT_DEFAULT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Watch.Debounce, "DOCPRESS_WATCH_DEBOUNCE"); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
