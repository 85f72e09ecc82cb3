package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Gallery  GalleryConfig  `yaml:"gallery"`
	Match    MatchConfig    `yaml:"match"`
	Gate     GateConfig     `yaml:"gate"`
	Document DocumentConfig `yaml:"document"`
	Camera   CameraConfig   `yaml:"camera"`
	Worker   WorkerConfig   `yaml:"worker"`
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
	LogLevel string         `yaml:"log_level"`
}

type GalleryConfig struct {
	Dataset        string   `yaml:"dataset"`
	SampleInterval int      `yaml:"sample_interval"`
	Extensions     []string `yaml:"extensions"`
}

type MatchConfig struct {
	Tolerance  float64 `yaml:"tolerance"`
	Index      string  `yaml:"index"`      // linear or hnsw
	Candidates int     `yaml:"candidates"` // hnsw only
}

type GateConfig struct {
	Cooldown       time.Duration `yaml:"cooldown"`
	Granularity    string        `yaml:"granularity"`     // global or per-label
	AbsenceTimeout time.Duration `yaml:"absence_timeout"` // 0 disables
	Release        string        `yaml:"release"`         // pull, push or both
}

type DocumentConfig struct {
	Dir  string `yaml:"dir"`
	Name string `yaml:"name"`
}

type CameraConfig struct {
	Device  string `yaml:"device"`  // ffmpeg input, e.g. /dev/video0 or a file
	Format  string `yaml:"format"`  // ffmpeg -f value, empty to let ffmpeg probe
	Quality int    `yaml:"quality"` // JPEG quality of the annotated stream
}

type WorkerConfig struct {
	Engines int           `yaml:"engines"`
	Python  string        `yaml:"python"`
	Script  string        `yaml:"script"`
	Timeout time.Duration `yaml:"timeout"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"` // PostgreSQL connection URL, takes precedence over the fields below
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gallery: GalleryConfig{
			Dataset:        "dataset",
			SampleInterval: 30,
			Extensions:     []string{".mp4", ".avi"},
		},
		Match: MatchConfig{
			Tolerance:  0.6,
			Index:      "linear",
			Candidates: 8,
		},
		Gate: GateConfig{
			Cooldown:    5 * time.Second,
			Granularity: "global",
			Release:     "pull",
		},
		Document: DocumentConfig{
			Dir:  "document",
			Name: "document.pdf",
		},
		Camera: CameraConfig{
			Device:  "/dev/video0",
			Format:  "v4l2",
			Quality: 80,
		},
		Worker: WorkerConfig{
			Engines: 1,
			Python:  "python3",
			Script:  "python/worker.py",
			Timeout: 30 * time.Second,
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 5000,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, then the YAML file at path (if
// any), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Gallery.Dataset = envString("DATASET_DIR", c.Gallery.Dataset)
	c.Gallery.SampleInterval = envInt("SAMPLE_INTERVAL", c.Gallery.SampleInterval)
	if s := os.Getenv("VIDEO_EXTENSIONS"); s != "" {
		c.Gallery.Extensions = strings.Split(s, ",")
	}

	c.Match.Tolerance = envFloat("MATCH_TOLERANCE", c.Match.Tolerance)
	c.Match.Index = envString("MATCH_INDEX", c.Match.Index)
	c.Match.Candidates = envInt("MATCH_CANDIDATES", c.Match.Candidates)

	c.Gate.Cooldown = envDuration("GATE_COOLDOWN", c.Gate.Cooldown)
	c.Gate.Granularity = envString("GATE_GRANULARITY", c.Gate.Granularity)
	c.Gate.AbsenceTimeout = envDuration("GATE_ABSENCE_TIMEOUT", c.Gate.AbsenceTimeout)
	c.Gate.Release = envString("GATE_RELEASE", c.Gate.Release)

	c.Document.Dir = envString("DOCUMENT_DIR", c.Document.Dir)
	c.Document.Name = envString("DOCUMENT_NAME", c.Document.Name)

	c.Camera.Device = envString("CAMERA_DEVICE", c.Camera.Device)
	c.Camera.Format = envString("CAMERA_FORMAT", c.Camera.Format)
	c.Camera.Quality = envInt("CAMERA_QUALITY", c.Camera.Quality)

	c.Worker.Engines = envInt("WORKER_ENGINES", c.Worker.Engines)
	c.Worker.Python = envString("WORKER_PYTHON", c.Worker.Python)
	c.Worker.Script = envString("WORKER_SCRIPT", c.Worker.Script)
	c.Worker.Timeout = envDuration("WORKER_TIMEOUT", c.Worker.Timeout)

	c.Web.Host = envString("WEB_HOST", c.Web.Host)
	c.Web.Port = envInt("WEB_PORT", c.Web.Port)

	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.Host = envString("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = envString("POSTGRES_PORT", c.Database.Port)
	c.Database.User = envString("POSTGRES_USER", c.Database.User)
	c.Database.Password = envString("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Name = envString("POSTGRES_DB", c.Database.Name)

	c.LogLevel = envString("LOG_LEVEL", c.LogLevel)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Gallery.SampleInterval < 1 {
		errs = append(errs, fmt.Errorf("gallery.sample_interval must be >= 1, got %d", c.Gallery.SampleInterval))
	}
	if c.Match.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("match.tolerance must be >= 0, got %v", c.Match.Tolerance))
	}
	switch c.Match.Index {
	case "linear", "hnsw":
	default:
		errs = append(errs, fmt.Errorf("match.index must be 'linear' or 'hnsw', got %q", c.Match.Index))
	}
	if c.Gate.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("gate.cooldown must be >= 0, got %v", c.Gate.Cooldown))
	}
	if c.Gate.AbsenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("gate.absence_timeout must be >= 0, got %v", c.Gate.AbsenceTimeout))
	}
	switch c.Gate.Granularity {
	case "global", "per-label":
	default:
		errs = append(errs, fmt.Errorf("gate.granularity must be 'global' or 'per-label', got %q", c.Gate.Granularity))
	}
	switch c.Gate.Release {
	case "pull", "push", "both":
	default:
		errs = append(errs, fmt.Errorf("gate.release must be 'pull', 'push' or 'both', got %q", c.Gate.Release))
	}
	if c.Worker.Engines < 1 {
		errs = append(errs, fmt.Errorf("worker.engines must be >= 1, got %d", c.Worker.Engines))
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("web.port out of range: %d", c.Web.Port))
	}
	return errors.Join(errs...)
}

// Push reports whether unlocks should open the document on the host.
func (g GateConfig) Push() bool { return g.Release == "push" || g.Release == "both" }

// Pull reports whether the document is served over HTTP.
func (g GateConfig) Pull() bool { return g.Release == "pull" || g.Release == "both" }

// Addr is the listen address.
func (w WebConfig) Addr() string {
	return net.JoinHostPort(w.Host, strconv.Itoa(w.Port))
}

// ConnString returns the database URL, or one assembled from the POSTGRES_*
// fields, or "" when the audit store is disabled.
func (d DatabaseConfig) ConnString() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Host == "" {
		return ""
	}
	port := d.Port
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, port),
		Path:     d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as an integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration accepts Go durations ("5s") or a bare number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultVal
}
