package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	DBPath     string `env:"DB_PATH" envDefault:"/data/fieldvisit.db"`

	// Visit server.
	VisitAPIURL string `env:"VISIT_API_URL" envDefault:"http://localhost:9000/api/v1"`
	VisitAPIKey string `env:"VISIT_API_KEY"`

	// Device agent exposing camera, geolocation and the overlay surface.
	DeviceBridgeURL string `env:"DEVICE_BRIDGE_URL" envDefault:"http://127.0.0.1:7120"`

	// Media budgets.
	PhotoBudgetBytes int     `env:"PHOTO_BUDGET_BYTES" envDefault:"1048576"`
	PhotoTargetWidth int     `env:"PHOTO_TARGET_WIDTH" envDefault:"1280"`
	PhotoQuality     float64 `env:"PHOTO_QUALITY" envDefault:"0.7"`
	VideoBudgetBytes int     `env:"VIDEO_BUDGET_BYTES" envDefault:"5242880"`
	VideoRawCeiling  int     `env:"VIDEO_RAW_CEILING_BYTES" envDefault:"15728640"`

	// Pipeline policy.
	CheckoutGeofence bool          `env:"CHECKOUT_GEOFENCE" envDefault:"true"`
	CameraGrace      time.Duration `env:"CAMERA_GRACE" envDefault:"3s"`
	OutletCacheTTL   time.Duration `env:"OUTLET_CACHE_TTL" envDefault:"5m"`
	OutletCacheSize  int           `env:"OUTLET_CACHE_SIZE" envDefault:"256"`

	// Advisory photo audit. "off" disables it.
	AuditBackend string `env:"AUDIT_BACKEND" envDefault:"off"`
	ClaudeAPIKey string `env:"CLAUDE_API_KEY"`
	ClaudeModel  string `env:"CLAUDE_MODEL" envDefault:"claude-3-5-haiku-latest"`

	// HTTP gateway.
	RateLimitRPS   int `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST" envDefault:"40"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
