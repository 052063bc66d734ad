// Package config assembles the service configuration from defaults, an
// optional azeltrack.yaml file and AZELTRACK_* environment variables, in
// increasing order of precedence.
//
// Optional settings that fail to parse are logged and replaced by their
// defaults. The target satellite and the observer location have no safe
// fallback, so problems with them are returned as errors.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/star/azeltrack/internal/auth"
	"github.com/star/azeltrack/internal/observability"
	"github.com/star/azeltrack/internal/sgp4"
	"github.com/star/azeltrack/internal/stream"
	"github.com/star/azeltrack/internal/tracker"
	"github.com/star/azeltrack/internal/transform"
)

// EnvPrefix prefixes every environment override, e.g. AZELTRACK_OBSERVER_LAT.
const EnvPrefix = "AZELTRACK"

// Config is the complete service configuration.
type Config struct {
	HTTP      HTTPConfig
	LogLevel  slog.Level
	Tracking  tracker.Config
	TLE       TLEConfig
	Stream    stream.Config
	Auth      auth.Config
	Tracing   observability.TracingConfig
	HubBuffer int

	// EmitStdout writes every sample to stdout as one JSON object per line.
	EmitStdout bool
}

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Addr           string
	TrustProxy     bool
	FetchPerMinute float64
	FetchBurst     int
}

// TLEConfig holds element acquisition settings.
type TLEConfig struct {
	EnableFetch     bool
	SourceURL       string
	ExtraSourceURLs []string
	CacheDir        string
	MaxFiles        int
	MaxAge          time.Duration
	RefreshInterval time.Duration
}

var defaults = map[string]string{
	"http.addr":              ":8080",
	"http.trust_proxy":       "false",
	"http.fetch_per_minute":  "1",
	"http.fetch_burst":       "1",
	"log.level":              "info",
	"target":                 "ISS (ZARYA)",
	"observer.alt_km":        "0",
	"update_period":          "1s",
	"gravity":                "wgs72",
	"tle.fetch_enabled":      "true",
	"tle.source_url":         "",
	"tle.extra_urls":         "",
	"tle.cache_dir":          "/tmp/azeltrack/tle",
	"tle.max_files":          "5",
	"tle.max_age":            "24h",
	"tle.refresh_interval":   "6h",
	"stream.max_concurrent":  "10",
	"stream.max_total":       "1000",
	"stream.keepalive":       "30s",
	"stream.allowed_origins": "",
	"auth.enabled":           "false",
	"auth.token":             "",
	"tracing.enabled":        "false",
	"tracing.service_name":   "azeltrack",
	"tracing.exporter":       "stdout",
	"tracing.endpoint":       "localhost:4317",
	"tracing.sample_ratio":   "1",
	"hub.buffer":             "16",
	"output.stdout":          "true",
}

// Load reads configuration from ./azeltrack.yaml (if present) and the
// environment. AZELTRACK_CONFIG names an explicit file instead.
func Load(logger *slog.Logger) (Config, error) {
	return load(viper.New(), ".", logger)
}

func load(v *viper.Viper, dir string, logger *slog.Logger) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	// Required keys have no default, so bind them for AutomaticEnv.
	for _, k := range []string{"observer.lat", "observer.lon", "config"} {
		if err := v.BindEnv(k); err != nil {
			return Config{}, fmt.Errorf("binding %s: %w", k, err)
		}
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("azeltrack")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		logger.Info("config file loaded", "path", v.ConfigFileUsed())
	}

	r := reader{v: v, logger: logger}
	var cfg Config

	cfg.HTTP = HTTPConfig{
		Addr:           r.str("http.addr"),
		TrustProxy:     r.boolean("http.trust_proxy", false),
		FetchPerMinute: r.positiveFloat("http.fetch_per_minute", 1),
		FetchBurst:     r.positiveInt("http.fetch_burst", 1),
	}
	cfg.LogLevel = r.level("log.level", slog.LevelInfo)

	tracking, err := r.tracking()
	if err != nil {
		return Config{}, err
	}
	cfg.Tracking = tracking

	cfg.TLE = TLEConfig{
		EnableFetch:     r.boolean("tle.fetch_enabled", true),
		SourceURL:       r.str("tle.source_url"),
		ExtraSourceURLs: r.list("tle.extra_urls"),
		CacheDir:        r.str("tle.cache_dir"),
		MaxFiles:        r.positiveInt("tle.max_files", 5),
		MaxAge:          r.duration("tle.max_age", 24*time.Hour),
		RefreshInterval: r.duration("tle.refresh_interval", 6*time.Hour),
	}

	cfg.Stream = stream.Config{
		MaxConcurrentPerIP: r.positiveInt("stream.max_concurrent", 10),
		MaxTotal:           r.positiveInt("stream.max_total", 1000),
		KeepaliveInterval:  r.duration("stream.keepalive", 30*time.Second),
		TrustProxy:         cfg.HTTP.TrustProxy,
		AllowedOrigins:     r.list("stream.allowed_origins"),
	}

	cfg.Auth = auth.Config{
		Enabled: r.boolean("auth.enabled", false),
		Token:   r.str("auth.token"),
	}
	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		return Config{}, errors.New("AZELTRACK_AUTH_TOKEN is required when auth is enabled")
	}

	cfg.Tracing = observability.TracingConfig{
		Enabled:     r.boolean("tracing.enabled", false),
		ServiceName: r.str("tracing.service_name"),
		Exporter:    strings.ToLower(r.str("tracing.exporter")),
		Endpoint:    r.str("tracing.endpoint"),
		SampleRatio: r.ratio("tracing.sample_ratio", 1),
	}

	cfg.HubBuffer = r.positiveInt("hub.buffer", 16)
	cfg.EmitStdout = r.boolean("output.stdout", true)

	logger.Info("configuration loaded",
		"addr", cfg.HTTP.Addr,
		"satellite", cfg.Tracking.Target,
		"observer_lat", cfg.Tracking.Observer.LatDeg,
		"observer_lon", cfg.Tracking.Observer.LonDeg,
		"observer_alt_km", cfg.Tracking.Observer.AltKm,
		"update_period", cfg.Tracking.UpdatePeriod.String(),
		"gravity", cfg.Tracking.Gravity.String(),
		"tle_fetch_enabled", cfg.TLE.EnableFetch,
		"tle_cache_dir", cfg.TLE.CacheDir,
		"auth_enabled", cfg.Auth.Enabled,
		"tracing_enabled", cfg.Tracing.Enabled,
	)
	return cfg, nil
}

// tracking builds the tracker configuration. Every failure here is fatal.
func (r reader) tracking() (tracker.Config, error) {
	target := strings.TrimSpace(r.str("target"))
	if target == "" {
		return tracker.Config{}, errors.New("target satellite must not be empty (AZELTRACK_TARGET)")
	}

	lat, err := r.requiredFloat("observer.lat")
	if err != nil {
		return tracker.Config{}, err
	}
	lon, err := r.requiredFloat("observer.lon")
	if err != nil {
		return tracker.Config{}, err
	}
	alt, err := r.requiredFloat("observer.alt_km")
	if err != nil {
		return tracker.Config{}, err
	}

	cfg := tracker.Config{
		Target:       target,
		Observer:     transform.NewObserver(lat, lon, alt),
		UpdatePeriod: r.duration("update_period", time.Second),
		Gravity:      r.gravity("gravity"),
	}
	if err := cfg.Validate(); err != nil {
		return tracker.Config{}, fmt.Errorf("tracking config: %w", err)
	}
	return cfg, nil
}

// reader converts raw viper values, warning on and replacing invalid ones.
type reader struct {
	v      *viper.Viper
	logger *slog.Logger
}

func (r reader) str(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

func (r reader) invalid(key, value string, def any) {
	r.logger.Warn("invalid config value, using default",
		"key", key,
		"env", envName(key),
		"value", value,
		"default", def,
	)
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (r reader) requiredFloat(key string) (float64, error) {
	raw := r.str(key)
	if raw == "" {
		return 0, fmt.Errorf("%s is required (%s)", key, envName(key))
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", key, raw)
	}
	return f, nil
}

func (r reader) boolean(key string, def bool) bool {
	raw := r.str(key)
	b, err := strconv.ParseBool(raw)
	if err != nil {
		r.invalid(key, raw, def)
		return def
	}
	return b
}

func (r reader) positiveInt(key string, def int) int {
	raw := r.str(key)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		r.invalid(key, raw, def)
		return def
	}
	return n
}

func (r reader) positiveFloat(key string, def float64) float64 {
	raw := r.str(key)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(f > 0) {
		r.invalid(key, raw, def)
		return def
	}
	return f
}

func (r reader) ratio(key string, def float64) float64 {
	raw := r.str(key)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f > 1 {
		r.invalid(key, raw, def)
		return def
	}
	return f
}

// duration accepts Go durations ("90s", "1m30s") or plain seconds ("90").
func (r reader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			r.invalid(key, raw, def.String())
			return def
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		r.invalid(key, raw, def.String())
		return def
	}
	return d
}

func (r reader) level(key string, def slog.Level) slog.Level {
	raw := r.str(key)
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		r.invalid(key, raw, def.String())
		return def
	}
	return l
}

func (r reader) gravity(key string) sgp4.Gravity {
	raw := r.str(key)
	g, err := sgp4.ParseGravity(raw)
	if err != nil {
		r.invalid(key, raw, sgp4.WGS72.String())
	}
	return g
}

// list splits a comma-separated value; a YAML sequence works too.
func (r reader) list(key string) []string {
	var out []string
	for _, item := range r.v.GetStringSlice(key) {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
