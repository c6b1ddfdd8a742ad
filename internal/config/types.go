package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
// Secrets are usually written as ${ENV_VAR} and expanded at load time.
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Channels []ChannelConfig `json:"channels"`
	Publish  PublishConfig   `json:"publish"`
	Services ServicesConfig  `json:"services"`
	Pipeline PipelineConfig  `json:"pipeline"`
	Logging  LoggingConfig   `json:"logging"`

	Storage   *StorageConfig   `json:"storage,omitempty"`
	Retention *RetentionConfig `json:"retention,omitempty"`
	Server    *ServerConfig    `json:"server,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL overrides https://api.telegram.org (local Bot API server).
	APIURL string `json:"api_url,omitempty"`
	// AdminChat receives run reports and, when enabled, log lines.
	AdminChat    string  `json:"admin_chat"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// Commands enables long polling for /runs and /retract.
	Commands bool `json:"commands,omitempty"`
}

// ChannelConfig is one entry of the channel directory. Exactly zero or one
// channel may be marked special.
type ChannelConfig struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Special bool   `json:"special,omitempty"`
}

// PublishConfig controls channel fan-out and the inline keyboard.
//
// Defaults:
//   - concurrency: 4
//   - rate_per_sec: 0 (unthrottled)
//   - premium_text: "👑 Premium Content 👑"
//   - premium_url, vip_url: the stock invite links
//   - vip_titles: six "Join VIP Megas" variants
type PublishConfig struct {
	Concurrency int      `json:"concurrency,omitempty"`
	RatePerSec  float64  `json:"rate_per_sec,omitempty"`
	Burst       int      `json:"burst,omitempty"`
	PremiumText string   `json:"premium_text,omitempty"`
	PremiumURL  string   `json:"premium_url,omitempty"`
	VIPTitles   []string `json:"vip_titles,omitempty"`
	VIPURL      string   `json:"vip_url,omitempty"`
}

type ServicesConfig struct {
	Resolver  ResolverConfig  `json:"resolver"`
	PageHost  PageHostConfig  `json:"page_host"`
	Lock      LockConfig      `json:"lock"`
	Shortener ShortenerConfig `json:"shortener"`
	Caption   CaptionConfig   `json:"caption"`
}

type ResolverConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key"`
	Timeout string `json:"timeout,omitempty"`
}

type PageHostConfig struct {
	BaseURL string        `json:"base_url,omitempty"`
	Timeout string        `json:"timeout,omitempty"`
	Titles  []string      `json:"titles,omitempty"`
	Promos  []PromoConfig `json:"promos,omitempty"`
	// Secondary names a fallback host slot; it has no integration and
	// always fails over to a fatal error.
	Secondary string `json:"secondary,omitempty"`
}

type PromoConfig struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type LockConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	Token   string `json:"token"`
	Timeout string `json:"timeout,omitempty"`
}

// ShortenerConfig lists providers in fallback order ("tinyurl", "isgd").
type ShortenerConfig struct {
	Providers  []string `json:"providers,omitempty"`
	TinyURLURL string   `json:"tinyurl_url,omitempty"`
	IsGdURL    string   `json:"isgd_url,omitempty"`
	Timeout    string   `json:"timeout,omitempty"`
}

// CaptionConfig lists remote formatters in fallback order ("gemini",
// "openai"). The local template is always the last resort.
type CaptionConfig struct {
	Providers []string         `json:"providers,omitempty"`
	Gemini    AIProviderConfig `json:"gemini,omitempty"`
	OpenAI    AIProviderConfig `json:"openai,omitempty"`
}

type AIProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type PipelineConfig struct {
	DefaultButtonText string `json:"default_button_text,omitempty"`
	// ReportTimeout bounds the operator report send (default "15s").
	ReportTimeout string `json:"report_timeout,omitempty"`
	// Seed fixes decorative random choices; 0 seeds from the clock.
	Seed int64 `json:"seed,omitempty"`
}

// StorageConfig controls the run history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/postbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RetentionConfig retracts posts older than MaxAge on Schedule.
type RetentionConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // default "@every 1h"
	MaxAge   string `json:"max_age"`
	Batch    int    `json:"batch,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// ServerConfig controls the HTTP API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - A non-loopback address requires a token unless allow_insecure is set.
type ServerConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	// MaxBodyBytes bounds request bodies (embedded images); default 20 MiB.
	MaxBodyBytes int64 `json:"max_body_bytes,omitempty"`
	// Pprof mounts /debug/pprof behind the same token.
	Pprof bool `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SpecialChannel returns the id of the channel marked special, or "".
func (c *Config) SpecialChannel() string {
	for _, ch := range c.Channels {
		if ch.Special {
			return ch.ID
		}
	}
	return ""
}

// ChannelNames maps channel ids to display names.
func (c *Config) ChannelNames() map[string]string {
	out := make(map[string]string, len(c.Channels))
	for _, ch := range c.Channels {
		out[ch.ID] = ch.Name
	}
	return out
}

// ChannelIDs returns every configured channel id in order.
func (c *Config) ChannelIDs() []string {
	out := make([]string, 0, len(c.Channels))
	for _, ch := range c.Channels {
		out = append(out, ch.ID)
	}
	return out
}
