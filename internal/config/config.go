package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gpsserver/internal/logging"
)

type Config struct {
	Listen ListenConfig `yaml:"listen"`
	Store  StoreConfig  `yaml:"store"`
	Plot   PlotConfig   `yaml:"plot"`
	Web    WebConfig    `yaml:"web"`
	Log    LogConfig    `yaml:"log"`
}

type ListenConfig struct {
	Addr     string `yaml:"addr"`
	MaxConns int    `yaml:"max_conns"`
	// ReadTimeout bounds the wait for a batch terminator. Negative disables it.
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	MaxBatchBytes int           `yaml:"max_batch_bytes"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
	// Lock takes an exclusive lock next to the data file.
	Lock bool `yaml:"lock"`
}

type PlotConfig struct {
	Enable   bool   `yaml:"enable"`
	Dir      string `yaml:"dir"`
	WidthPx  int    `yaml:"width_px"`
	HeightPx int    `yaml:"height_px"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	BufferLines int    `yaml:"buffer_lines"`
}

// Default returns the configuration used when no file is given. Fields
// absent from a loaded file keep these values.
func Default() Config {
	return Config{
		Listen: ListenConfig{
			Addr:          ":5555",
			MaxConns:      64,
			ReadTimeout:   60 * time.Second,
			MaxBatchBytes: 1 << 20,
		},
		Store: StoreConfig{Path: "data.txt", Lock: true},
		Plot: PlotConfig{
			Enable:   true,
			Dir:      ".",
			WidthPx:  1200,
			HeightPx: 1200,
		},
		Web: WebConfig{Listen: ":8080"},
		Log: LogConfig{Level: "info", BufferLines: 2000},
	}
}

// Load reads path over the defaults and validates the result. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen.Addr) == "" {
		return fmt.Errorf("listen.addr is required")
	}
	if c.Listen.MaxConns <= 0 {
		return fmt.Errorf("listen.max_conns must be > 0")
	}
	if c.Listen.ReadTimeout == 0 {
		return fmt.Errorf("listen.read_timeout must be non-zero (negative disables it)")
	}
	if c.Listen.MaxBatchBytes <= 0 {
		return fmt.Errorf("listen.max_batch_bytes must be > 0")
	}

	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required")
	}

	if c.Plot.Enable {
		if strings.TrimSpace(c.Plot.Dir) == "" {
			return fmt.Errorf("plot.dir is required when plot.enable is true")
		}
		if c.Plot.WidthPx <= 0 || c.Plot.HeightPx <= 0 {
			return fmt.Errorf("plot.width_px and plot.height_px must be > 0")
		}
	}

	if c.Web.Enable {
		if strings.TrimSpace(c.Web.Listen) == "" {
			return fmt.Errorf("web.listen is required when web.enable is true")
		}
		if c.Web.Listen == c.Listen.Addr {
			return fmt.Errorf("web.listen and listen.addr cannot be the same")
		}
	}

	if !slices.Contains(logging.Levels, strings.ToLower(strings.TrimSpace(c.Log.Level))) {
		return fmt.Errorf("log.level must be one of %s", strings.Join(logging.Levels, ", "))
	}
	if c.Log.BufferLines <= 0 {
		return fmt.Errorf("log.buffer_lines must be > 0")
	}
	return nil
}
