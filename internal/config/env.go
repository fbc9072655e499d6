package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnv overlays CREMERD_* environment variables on cfg.
func applyEnv(cfg *Config) {
	parseString("CREMERD_DATA_DIR", &cfg.DataDir)
	parseString("CREMERD_DB_PATH", &cfg.DBPath)
	parseString("CREMERD_LISTEN_ADDR", &cfg.ListenAddr)
	parseString("CREMERD_LOG_LEVEL", &cfg.LogLevel)
	parseString("CREMERD_TIMEZONE", &cfg.Timezone)

	parseString("CREMERD_GPIO_URL", &cfg.GPIO.URL)
	parseDuration("CREMERD_GPIO_DEAD_AFTER", &cfg.GPIO.HeartbeatDeadAfter)
	parseDuration("CREMERD_GPIO_WATCHDOG_INTERVAL", &cfg.GPIO.WatchdogInterval)
	parseDuration("CREMERD_GPIO_RECONNECT_MIN", &cfg.GPIO.ReconnectMin)
	parseDuration("CREMERD_GPIO_RECONNECT_MAX", &cfg.GPIO.ReconnectMax)

	parseInt("CREMERD_COUNTER_PIN", &cfg.Counter.Pin)

	parseInt("CREMERD_PAUSE_PONDERAL_PIN", &cfg.Pause.PonderalPin)
	parseInt("CREMERD_PAUSE_ETIQUETA_PIN", &cfg.Pause.EtiquetaPin)
	parseDuration("CREMERD_PAUSE_OPEN_AFTER", &cfg.Pause.OpenAfter)
	parseDuration("CREMERD_PAUSE_CLOSE_AFTER", &cfg.Pause.CloseAfter)
	parseDuration("CREMERD_PAUSE_COOLDOWN", &cfg.Pause.Cooldown)
	parseDuration("CREMERD_PAUSE_RECONCILE_INTERVAL", &cfg.Pause.ReconcileInterval)
	parseDuration("CREMERD_PAUSE_REARM_INTERVAL", &cfg.Pause.RearmInterval)
}

func parseString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func parseInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func parseDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
