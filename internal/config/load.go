// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix marks structured environment overrides: AUTHSVC_JWT__ACCESS_TTL
// sets jwt.access_ttl.
const EnvPrefix = "AUTHSVC_"

// legacyEnv maps the flat variable names used by earlier deployments onto
// config keys. unit, when set, is appended to numeric values so that
// EMAIL_TOKEN_EXPIRE_MINUTES=120 becomes "120m".
var legacyEnv = map[string]struct {
	key  string
	unit string
}{
	"ENVIRONMENT":                    {key: "environment"},
	"LOG_LEVEL":                      {key: "log.level"},
	"DATABASE_URL":                   {key: "database.url"},
	"DB_POOL_SIZE":                   {key: "database.max_conns"},
	"REDIS_URL":                      {key: "redis.url"},
	"CORS_ORIGINS":                   {key: "http.cors_origins"},
	"JWT_SECRET_KEY":                 {key: "jwt.secret"},
	"JWT_ALGORITHM":                  {key: "jwt.algorithm"},
	"JWT_ISS":                        {key: "jwt.issuer"},
	"JWT_AUD":                        {key: "jwt.audience"},
	"ACCESS_TOKEN_EXPIRE_MINUTES":    {key: "jwt.access_ttl", unit: "m"},
	"REFRESH_TOKEN_EXPIRE_DAYS":      {key: "jwt.refresh_ttl", unit: "d"},
	"EMAIL_TOKEN_EXPIRE_MINUTES":     {key: "verification.token_ttl", unit: "m"},
	"RESEND_COOLDOWN_SEC":            {key: "verification.resend_cooldown", unit: "s"},
	"FRONTEND_URL":                   {key: "verification.frontend_url"},
	"RECAPTCHA_SECRET_KEY":           {key: "captcha.secret"},
	"RECAPTCHA_VERIFY_URL":           {key: "captcha.verify_url"},
	"RECAPTCHA_MIN_SCORE":            {key: "captcha.min_score"},
	"SENDGRID_API_KEY":               {key: "email.sendgrid_api_key"},
	"FROM_EMAIL":                     {key: "email.from_address"},
	"VERIFICATION_EMAIL_TEMPLATE_ID": {key: "email.template_id"},
}

// FlagKeys maps command-line flag names onto config keys. Commands register
// the flags they expose; Load only applies flags the user actually set.
var FlagKeys = map[string]string{
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"environment":  "environment",
	"database-url": "database.url",
	"redis-url":    "redis.url",
}

// Load builds a Config from defaults, the optional YAML file at path, the
// environment and finally the changed flags in fs. Later sources win.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return Config{}, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateFile(data); err != nil {
			return Config{}, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", mapEnv), nil); err != nil {
		return Config{}, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return cfg, nil
}

// mapEnv translates one environment variable into a config key and value.
// Variables that are neither prefixed nor known legacy names are skipped.
func mapEnv(name, value string) (string, any) {
	if rest, ok := strings.CutPrefix(name, EnvPrefix); ok {
		return strings.ReplaceAll(strings.ToLower(rest), "__", "."), value
	}
	legacy, ok := legacyEnv[name]
	if !ok {
		return "", nil
	}
	switch legacy.unit {
	case "":
		return legacy.key, value
	case "d":
		days, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return legacy.key, value
		}
		return legacy.key, strconv.Itoa(days*24) + "h"
	default:
		v := strings.TrimSpace(value)
		if _, err := strconv.Atoi(v); err != nil {
			return legacy.key, value
		}
		return legacy.key, v + legacy.unit
	}
}
