package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. KIOSK_DB_HOST.
const EnvPrefix = "KIOSK"

type Config struct {
	Kiosk       KioskConfig       `yaml:"kiosk"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database" envconfig:"DB"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Vision      VisionConfig      `yaml:"vision"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Enrollment  EnrollmentConfig  `yaml:"enrollment"`
	Camera      CameraConfig      `yaml:"camera"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOG"`
}

type KioskConfig struct {
	ID       string `yaml:"id"`
	Timezone string `yaml:"timezone"`
}

// Location resolves the configured time zone, falling back to the host's local zone.
func (k KioskConfig) Location() (*time.Location, error) {
	if k.Timezone == "" || k.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(k.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", k.Timezone, err)
	}
	return loc, nil
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key" split_words:"true"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns" split_words:"true"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key" split_words:"true"`
	SecretKey string `yaml:"secret_key" split_words:"true"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" split_words:"true"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir" split_words:"true"`
	ONNXLibrary        string  `yaml:"onnx_library" envconfig:"ONNX_LIBRARY"`
	DetectionThreshold float64 `yaml:"detection_threshold" split_words:"true"`
	MinFaceSize        int     `yaml:"min_face_size" split_words:"true"`
	EmbeddingDim       int     `yaml:"embedding_dim" split_words:"true"`
}

type RecognitionConfig struct {
	Tolerance      float64       `yaml:"tolerance"`
	Cadence        time.Duration `yaml:"cadence"`
	IdleCadence    time.Duration `yaml:"idle_cadence" split_words:"true"`
	MaxFrameAge    time.Duration `yaml:"max_frame_age" split_words:"true"`
	DisplayTimeout time.Duration `yaml:"display_timeout" split_words:"true"`
}

type EnrollmentConfig struct {
	GracePeriod time.Duration `yaml:"grace_period" split_words:"true"`
}

type CameraConfig struct {
	Device      string        `yaml:"device"`
	InputFormat string        `yaml:"input_format" split_words:"true"`
	Width       int           `yaml:"width"`
	FPS         int           `yaml:"fps"`
	AutoStart   bool          `yaml:"auto_start" split_words:"true"`
	RetryDelay  time.Duration `yaml:"retry_delay" split_words:"true"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// An empty path skips the file and uses environment and defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Recognition.Tolerance <= 0 {
		return fmt.Errorf("recognition.tolerance must be positive, got %v", c.Recognition.Tolerance)
	}
	if c.Recognition.IdleCadence < c.Recognition.Cadence {
		return fmt.Errorf("recognition.idle_cadence (%s) must not be shorter than cadence (%s)",
			c.Recognition.IdleCadence, c.Recognition.Cadence)
	}
	if _, err := c.Kiosk.Location(); err != nil {
		return err
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Kiosk.ID == "" {
		cfg.Kiosk.ID = "kiosk-1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "kiosk-faces"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.MinFaceSize == 0 {
		cfg.Vision.MinFaceSize = 32
	}
	if cfg.Vision.EmbeddingDim == 0 {
		cfg.Vision.EmbeddingDim = 512
	}
	if cfg.Recognition.Tolerance == 0 {
		cfg.Recognition.Tolerance = 0.6
	}
	if cfg.Recognition.Cadence == 0 {
		cfg.Recognition.Cadence = 200 * time.Millisecond
	}
	if cfg.Recognition.IdleCadence == 0 {
		cfg.Recognition.IdleCadence = time.Second
	}
	if cfg.Recognition.MaxFrameAge == 0 {
		cfg.Recognition.MaxFrameAge = time.Second
	}
	if cfg.Recognition.DisplayTimeout == 0 {
		cfg.Recognition.DisplayTimeout = 3 * time.Second
	}
	if cfg.Enrollment.GracePeriod == 0 {
		cfg.Enrollment.GracePeriod = 4 * time.Second
	}
	if cfg.Camera.Device == "" {
		cfg.Camera.Device = "/dev/video0"
	}
	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = 5
	}
	if cfg.Camera.RetryDelay == 0 {
		cfg.Camera.RetryDelay = 5 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
