// Package config loads the notifier configuration from the environment, an
// optional .env file and an optional YAML/JSON config file.
//
// Environment variables win over the config file, which wins over defaults.
// Keys in the config file use the lower-cased variable names
// (canvas_course_id, teams_webhook_url, ...).
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultAPIBase     = "https://canvas.tue.nl"
	DefaultTokenFile   = "token"
	DefaultGroupsFile  = "student_groups.json"
	DefaultStateFile   = "state/course_comment_dedupe.json"
	DefaultHTTPTimeout = 30 * time.Second

	SinkTeams    = "teams"
	SinkTelegram = "telegram"
)

// Config is the resolved runtime configuration.
type Config struct {
	CanvasAPIBase   string `mapstructure:"canvas_api_base" validate:"required,url"`
	CourseID        int64  `mapstructure:"canvas_course_id" validate:"required,gt=0"`
	CanvasToken     string `mapstructure:"canvas_token"`
	CanvasTokenFile string `mapstructure:"canvas_token_file"`

	Sink            string `mapstructure:"sink" validate:"oneof=teams telegram"`
	TeamsWebhookURL string `mapstructure:"teams_webhook_url" validate:"omitempty,url"`
	TelegramToken   string `mapstructure:"telegram_token"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`

	GroupsFile       string `mapstructure:"student_groups_file" validate:"required"`
	StateFile        string `mapstructure:"state_file" validate:"required"`
	StateDriver      string `mapstructure:"state_driver" validate:"oneof=file json sqlite sqlite3"`
	FirstRunBehavior string `mapstructure:"first_run_behavior"`
	DryRun           bool   `mapstructure:"-"`

	WebhookRatePerSec float64       `mapstructure:"webhook_rate_per_sec" validate:"gte=0"`
	CanvasRatePerSec  float64       `mapstructure:"canvas_rate_per_sec" validate:"gte=0"`
	HTTPTimeout       time.Duration `mapstructure:"-"`
	Schedule          string        `mapstructure:"schedule"`

	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogFile  string `mapstructure:"log_file"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Options controls where Load looks for settings.
type Options struct {
	// File is an optional YAML or JSON config file.
	File string
	// DotEnv is loaded when it exists. Empty means ".env".
	DotEnv string
}

var defaults = map[string]any{
	"canvas_api_base":      DefaultAPIBase,
	"canvas_course_id":     0,
	"canvas_token":         "",
	"canvas_token_file":    DefaultTokenFile,
	"sink":                 SinkTeams,
	"teams_webhook_url":    "",
	"telegram_token":       "",
	"telegram_chat_id":     0,
	"student_groups_file":  DefaultGroupsFile,
	"state_file":           DefaultStateFile,
	"state_driver":         "file",
	"first_run_behavior":   "baseline",
	"dry_run":              "",
	"webhook_rate_per_sec": 2.0,
	"canvas_rate_per_sec":  5.0,
	"http_timeout":         "",
	"schedule":             "*/10 * * * *",
	"log_level":            "info",
	"log_file":             "",
	"log_json":             false,
}

// Load reads the configuration. It does not validate; call Validate before
// a run.
func Load(opts Options) (*Config, error) {
	dotenv := opts.DotEnv
	if dotenv == "" {
		dotenv = ".env"
	}
	if _, err := os.Stat(dotenv); err == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", dotenv, err)
	}

	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, err
		}
	}
	if f := strings.TrimSpace(opts.File); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", f, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.CanvasAPIBase = strings.TrimSpace(cfg.CanvasAPIBase)
	if cfg.CanvasAPIBase == "" {
		cfg.CanvasAPIBase = DefaultAPIBase
	}
	cfg.CanvasToken = strings.TrimSpace(cfg.CanvasToken)
	cfg.Sink = strings.ToLower(strings.TrimSpace(cfg.Sink))
	cfg.TeamsWebhookURL = strings.TrimSpace(cfg.TeamsWebhookURL)
	cfg.StateDriver = strings.ToLower(strings.TrimSpace(cfg.StateDriver))
	cfg.FirstRunBehavior = strings.ToLower(strings.TrimSpace(cfg.FirstRunBehavior))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.DryRun = IsTruthy(v.GetString("dry_run"))

	timeout, err := ParseDurationOrDefault("HTTP_TIMEOUT", v.GetString("http_timeout"), DefaultHTTPTimeout)
	if err != nil {
		return nil, err
	}
	cfg.HTTPTimeout = timeout
	return &cfg, nil
}

// IsTruthy reports whether s is one of 1, true, yes or on, ignoring case and
// surrounding space.
func IsTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their environment variable name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return strings.ToUpper(name)
	})
	return v
}

// Validate checks everything a notification pass needs except the Canvas
// token, which ResolveToken handles.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return validationError(err)
	}
	switch c.Sink {
	case SinkTeams:
		if c.TeamsWebhookURL == "" {
			return errors.New("missing required environment variable: TEAMS_WEBHOOK_URL")
		}
	case SinkTelegram:
		if strings.TrimSpace(c.TelegramToken) == "" {
			return errors.New("missing required environment variable: TELEGRAM_TOKEN")
		}
		if c.TelegramChatID == 0 {
			return errors.New("missing required environment variable: TELEGRAM_CHAT_ID")
		}
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, "missing required environment variable: "+fe.Field())
		case "gt", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", fe.Field(), orEqual(fe.Tag(), fe.Param())))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be an absolute URL", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fmt.Sprint(fe.Value())))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func orEqual(tag, param string) string {
	if tag == "gte" {
		return "or equal to " + param
	}
	return param
}

// ResolveToken fills CanvasToken from CanvasTokenFile when the variable was
// not set. An empty token is an error.
func (c *Config) ResolveToken() error {
	if c.CanvasToken != "" {
		return nil
	}
	path := strings.TrimSpace(c.CanvasTokenFile)
	if path == "" {
		path = DefaultTokenFile
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read canvas token: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return errors.New("canvas token is empty")
	}
	c.CanvasToken = tok
	return nil
}
