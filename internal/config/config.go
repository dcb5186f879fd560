package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config is the relay's environment-sourced configuration. BackendBaseURL
// and AuthSecret are both optional: leaving BackendBaseURL empty runs the
// relay self-contained (the in-memory registry is the roster of record),
// leaving AuthSecret empty disables token auth at the gateway.
type Config struct {
	Env            string
	Port           string
	AllowedOrigins []string
	BackendBaseURL string
	AuthSecret     string
	MeetCapacity   int
	TrustedProxies string
}

const defaultMeetCapacity = 10

func Load() (Config, error) {
	cfg := Config{
		Env:            getEnv("ENV", "dev"),
		Port:           getEnv("PORT", "8080"),
		BackendBaseURL: strings.TrimRight(os.Getenv("BACKEND_BASE_URL"), "/"),
		AuthSecret:     os.Getenv("AUTH_SECRET"),
		MeetCapacity:   getEnvInt("MEET_CAPACITY", defaultMeetCapacity),
		TrustedProxies: os.Getenv("TRUSTED_PROXIES"),
	}

	rawOrigins := os.Getenv("ALLOWED_ORIGINS")
	if rawOrigins == "" {
		return Config{}, fmt.Errorf("ALLOWED_ORIGINS environment variable is required. Set to your frontend origin (e.g. 'https://meet.example.com') or a comma-separated list")
	}
	origins, err := ParseAllowedOrigins(rawOrigins)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowedOrigins = origins

	if cfg.AuthSecret != "" && len(cfg.AuthSecret) < 32 {
		return Config{}, fmt.Errorf("AUTH_SECRET must be at least 32 characters")
	}
	if cfg.MeetCapacity <= 0 {
		return Config{}, fmt.Errorf("MEET_CAPACITY must be a positive integer")
	}
	if cfg.BackendBaseURL != "" {
		parsed, err := url.Parse(cfg.BackendBaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return Config{}, fmt.Errorf("BACKEND_BASE_URL is not a valid absolute URL: %q", cfg.BackendBaseURL)
		}
	}

	return cfg, nil
}

// ParseAllowedOrigins validates a comma-separated allowlist. Entries must be
// full https origins; wildcards are rejected so a misconfigured deployment
// fails at startup instead of silently accepting every browser.
func ParseAllowedOrigins(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))

	for _, entry := range parts {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" || strings.HasPrefix(entry, "*.") {
			return nil, fmt.Errorf("ALLOWED_ORIGINS entries must be full https origins; wildcard values are not allowed: %q", entry)
		}

		normalized, ok := normalizeHTTPSOrigin(entry)
		if !ok {
			return nil, fmt.Errorf("ALLOWED_ORIGINS entry is invalid (%q). Use full https origins only, e.g. https://meet.example.com", entry)
		}

		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		origins = append(origins, normalized)
	}

	if len(origins) == 0 {
		return nil, fmt.Errorf("ALLOWED_ORIGINS must include at least one full https origin")
	}
	return origins, nil
}

func normalizeHTTPSOrigin(origin string) (string, bool) {
	originURL, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || originURL.Scheme == "" || originURL.Host == "" {
		return "", false
	}
	if !strings.EqualFold(originURL.Scheme, "https") {
		return "", false
	}
	if (originURL.Path != "" && originURL.Path != "/") || originURL.RawQuery != "" || originURL.Fragment != "" || originURL.User != nil {
		return "", false
	}
	return "https://" + strings.ToLower(originURL.Host), true
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}
