package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/snarg/scribe/internal/whisper"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":5000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"` // inference has no deadline
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	// Password is the site-wide shared secret. Empty disables auth.
	Password string `env:"PASSWORD"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	UploadDir  string `env:"UPLOAD_DIR" envDefault:"audios"`
	ResultsDir string `env:"RESULTS_DIR" envDefault:"results"`
	ModelDir   string `env:"MODEL_DIR" envDefault:"models"`

	DefaultModelSize string `env:"DEFAULT_MODEL_SIZE" envDefault:"small"`
	DefaultLanguage  string `env:"DEFAULT_LANGUAGE" envDefault:"fr"`

	ModelPolicy     string        `env:"MODEL_POLICY" envDefault:"single"`     // multi | single
	AdmissionPolicy string        `env:"ADMISSION_POLICY" envDefault:"reject"` // reject | wait
	BusyCooldown    time.Duration `env:"BUSY_COOLDOWN" envDefault:"3s"`
	Device          string        `env:"DEVICE" envDefault:"auto"` // auto | cpu | cuda

	EngineBackend     string        `env:"ENGINE_BACKEND" envDefault:"cli"` // cli | http
	FFmpegPath        string        `env:"FFMPEG_PATH"`
	WhisperCLIPath    string        `env:"WHISPER_CLI_PATH"`
	WhisperURL        string        `env:"WHISPER_URL"`
	WhisperTimeout    time.Duration `env:"WHISPER_TIMEOUT" envDefault:"10m"`
	WhisperThreads    int           `env:"WHISPER_THREADS" envDefault:"0"`
	ModelAutoDownload bool          `env:"MODEL_AUTO_DOWNLOAD" envDefault:"true"`

	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	MaxUploadMB     int64         `env:"MAX_UPLOAD_MB" envDefault:"500"`
	ResultFormat    string        `env:"RESULT_FORMAT" envDefault:"json"` // json | txt
	UploadRetention time.Duration `env:"UPLOAD_RETENTION" envDefault:"0s"` // 0 = keep forever

	S3 S3Config `envPrefix:"S3_"`

	DatabaseURL string `env:"DATABASE_URL"`

	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"scribe"`
	MQTTTopic     string `env:"MQTT_TOPIC" envDefault:"scribe/transcriptions"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`
}

// S3Config configures the optional S3-compatible artifact backend.
type S3Config struct {
	Bucket    string `env:"BUCKET"`
	Endpoint  string `env:"ENDPOINT"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile         string
	HTTPAddr        string
	LogLevel        string
	UploadDir       string
	ResultsDir      string
	ModelDir        string
	Device          string
	ModelPolicy     string
	AdmissionPolicy string
	FFmpegPath      string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	apply := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	apply(&cfg.HTTPAddr, overrides.HTTPAddr)
	apply(&cfg.LogLevel, overrides.LogLevel)
	apply(&cfg.UploadDir, overrides.UploadDir)
	apply(&cfg.ResultsDir, overrides.ResultsDir)
	apply(&cfg.ModelDir, overrides.ModelDir)
	apply(&cfg.Device, overrides.Device)
	apply(&cfg.ModelPolicy, overrides.ModelPolicy)
	apply(&cfg.AdmissionPolicy, overrides.AdmissionPolicy)
	apply(&cfg.FFmpegPath, overrides.FFmpegPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values and inconsistent combinations.
func (c *Config) Validate() error {
	checks := []struct {
		name    string
		value   string
		allowed []string
	}{
		{"MODEL_POLICY", c.ModelPolicy, []string{"multi", "single"}},
		{"ADMISSION_POLICY", c.AdmissionPolicy, []string{"reject", "wait"}},
		{"DEVICE", c.Device, []string{"auto", "cpu", "cuda"}},
		{"ENGINE_BACKEND", c.EngineBackend, []string{"cli", "http"}},
		{"RESULT_FORMAT", c.ResultFormat, []string{"json", "txt"}},
	}
	for _, chk := range checks {
		if !contains(chk.allowed, chk.value) {
			return fmt.Errorf("invalid %s %q: must be one of %v", chk.name, chk.value, chk.allowed)
		}
	}
	if !contains(whisper.SizeStrings(), c.DefaultModelSize) {
		return fmt.Errorf("invalid DEFAULT_MODEL_SIZE %q: must be one of %v", c.DefaultModelSize, whisper.SizeStrings())
	}
	if !contains(whisper.Languages, c.DefaultLanguage) {
		return fmt.Errorf("invalid DEFAULT_LANGUAGE %q: must be one of %v", c.DefaultLanguage, whisper.Languages)
	}
	if c.EngineBackend == "http" && c.WhisperURL == "" {
		return fmt.Errorf("ENGINE_BACKEND=http requires WHISPER_URL")
	}
	if c.BusyCooldown < 0 {
		return fmt.Errorf("invalid BUSY_COOLDOWN %s: must be >= 0", c.BusyCooldown)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid MAX_UPLOAD_MB %d: must be > 0", c.MaxUploadMB)
	}
	return nil
}

// MaxUploadBytes returns MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 { return c.MaxUploadMB << 20 }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
