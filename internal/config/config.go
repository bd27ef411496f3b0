package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Store    StoreConfig    `mapstructure:"store"`
	LogLevel string         `mapstructure:"log_level"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	Workers         int    `mapstructure:"workers"`
	MaxUploadBytes  int64  `mapstructure:"max_upload_bytes"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
}

// UpstreamConfig describes the OCR extraction service uploads are relayed to.
type UpstreamConfig struct {
	URL           string `mapstructure:"url"`
	OCRLang       string `mapstructure:"ocr_lang"`
	IncludeImages bool   `mapstructure:"include_images"`
	IncludeLinks  bool   `mapstructure:"include_links"`
	ForceOCR      bool   `mapstructure:"force_ocr"`
}

type StoreConfig struct {
	Path                 string `mapstructure:"path"`
	CompressionThreshold int    `mapstructure:"compression_threshold"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 30,
			RequestTimeout:  120,
			Workers:         4,
			MaxUploadBytes:  50 << 20,
			MaxTextBytes:    1 << 20,
		},
		Upstream: UpstreamConfig{
			URL:           "http://127.0.0.1:5001/extract",
			OCRLang:       "fra",
			IncludeImages: true,
			IncludeLinks:  true,
			ForceOCR:      true,
		},
		Store: StoreConfig{
			Path:                 "ocrgate.db",
			CompressionThreshold: 1024,
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request upstream deadline in seconds (0 disables)")
	fs.Int("server-workers", defaults.Server.Workers, "Max concurrent uploads forwarded to the OCR service")
	fs.Int64("server-max-upload-bytes", defaults.Server.MaxUploadBytes, "Maximum multipart upload size in bytes")
	fs.Int("server-max-text-bytes", defaults.Server.MaxTextBytes, "Maximum text size accepted by the normalize and documents endpoints")
	fs.String("upstream-url", defaults.Upstream.URL, "OCR service extract endpoint")
	fs.String("upstream-ocr-lang", defaults.Upstream.OCRLang, "OCR language sent upstream")
	fs.Bool("upstream-include-images", defaults.Upstream.IncludeImages, "Ask the OCR service to include images")
	fs.Bool("upstream-include-links", defaults.Upstream.IncludeLinks, "Ask the OCR service to include links")
	fs.Bool("upstream-force-ocr", defaults.Upstream.ForceOCR, "Ask the OCR service to reprocess documents that already carry text")
	fs.String("store-path", defaults.Store.Path, "SQLite database path for normalized documents")
	fs.Int("store-compression-threshold", defaults.Store.CompressionThreshold, "Minimum content size in bytes before zstd compression is attempted")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetEnvPrefix("OCRGATE")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("upstream.url", "OCRGATE_UPSTREAM_URL", "OCR_SERVICE_URL"); err != nil {
		return Config{}, fmt.Errorf("bind upstream env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("ocrgate")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_upload_bytes", c.Server.MaxUploadBytes)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("upstream.url", c.Upstream.URL)
	v.SetDefault("upstream.ocr_lang", c.Upstream.OCRLang)
	v.SetDefault("upstream.include_images", c.Upstream.IncludeImages)
	v.SetDefault("upstream.include_links", c.Upstream.IncludeLinks)
	v.SetDefault("upstream.force_ocr", c.Upstream.ForceOCR)
	v.SetDefault("store.path", c.Store.Path)
	v.SetDefault("store.compression_threshold", c.Store.CompressionThreshold)
}

// flagKeys maps each registered flag to its config key. Binding flags to
// the dotted keys keeps nested config file values visible to Unmarshal.
var flagKeys = map[string]string{
	"log-level":                   "log_level",
	"server-listen-addr":          "server.listen_addr",
	"server-shutdown-timeout":     "server.shutdown_timeout",
	"server-request-timeout":      "server.request_timeout",
	"server-workers":              "server.workers",
	"server-max-upload-bytes":     "server.max_upload_bytes",
	"server-max-text-bytes":       "server.max_text_bytes",
	"upstream-url":                "upstream.url",
	"upstream-ocr-lang":           "upstream.ocr_lang",
	"upstream-include-images":     "upstream.include_images",
	"upstream-include-links":      "upstream.include_links",
	"upstream-force-ocr":          "upstream.force_ocr",
	"store-path":                  "store.path",
	"store-compression-threshold": "store.compression_threshold",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
