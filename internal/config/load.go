package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"geowatch/internal/types"
)

// SSMRefPrefix marks an environment value as a pointer into SSM Parameter
// Store, e.g. DATABASE_URL=ssm:/geowatch/prod/database-url.
const SSMRefPrefix = "ssm:"

const localEnv = "local"

// Stage names the loading step that failed.
type Stage string

const (
	StageSecrets  Stage = "secrets"
	StageParse    Stage = "parse"
	StageValidate Stage = "validate"
)

// LoadError reports which stage of Load failed.
type LoadError struct {
	Stage Stage
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// process is the slice of the OS environment Load touches.
type process struct {
	environ func() []string
	setenv  func(key, value string) error
}

var osProcess = process{environ: os.Environ, setenv: os.Setenv}

// Load reads .env (if present), swaps ssm: references for their parameter
// values, parses the environment into Config and validates it. secrets may be
// nil in local mode; elsewhere it is required only if references exist.
func Load(ctx context.Context, secrets SecretSource) (*Config, error) {
	return load(ctx, secrets, osProcess)
}

func load(ctx context.Context, secrets SecretSource, proc process) (*Config, error) {
	time.Local = time.UTC
	_ = godotenv.Load()

	if os.Getenv("APP_ENV") != localEnv {
		if err := resolveRefs(ctx, secrets, proc); err != nil {
			return nil, &LoadError{Stage: StageSecrets, Err: err}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &LoadError{Stage: StageParse, Err: err}
	}
	cfg.Build = CurrentBuild()

	if err := newValidator().Struct(cfg); err != nil {
		return nil, &LoadError{Stage: StageValidate, Err: err}
	}
	return &cfg, nil
}

// resolveRefs rewrites every VAR=ssm:<name> entry in place.
func resolveRefs(ctx context.Context, secrets SecretSource, proc process) error {
	refs := map[string][]string{}
	for _, kv := range proc.environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(val, SSMRefPrefix) {
			continue
		}
		name := strings.TrimPrefix(val, SSMRefPrefix)
		if name == "" {
			return fmt.Errorf("%s: empty ssm reference", key)
		}
		refs[name] = append(refs[name], key)
	}
	if len(refs) == 0 {
		return nil
	}
	if secrets == nil {
		return errors.New("ssm references present but no secret source configured")
	}

	names := make([]string, 0, len(refs))
	for n := range refs {
		names = append(names, n)
	}
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	values, err := secrets.Resolve(ctx, names)
	if err != nil {
		return err
	}
	for _, n := range names {
		v, ok := values[n]
		if !ok {
			return fmt.Errorf("ssm parameter %s not returned", n)
		}
		for _, key := range refs[n] {
			if err := proc.setenv(key, v); err != nil {
				return fmt.Errorf("setting %s: %w", key, err)
			}
		}
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(validateConfig, Config{})
	return v
}

// validateConfig holds the rules that span more than one field.
func validateConfig(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	if cfg.Dispatch.Channel == "webhook" && cfg.Dispatch.Webhook.URL == "" {
		sl.ReportError(cfg.Dispatch.Webhook.URL, "Dispatch.Webhook.URL", "URL", "required_for_webhook", "")
	}
	if u := cfg.Dispatch.Webhook.URL; u != "" && types.ValidateWebhookURL(u) != nil {
		sl.ReportError(u, "Dispatch.Webhook.URL", "URL", "webhook_url", "")
	}
	if cfg.Database.MinConns > cfg.Database.MaxConns {
		sl.ReportError(cfg.Database.MinConns, "Database.MinConns", "MinConns", "ltefield", "MaxConns")
	}
}
