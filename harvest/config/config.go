package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"harvest/harvest/agents/core"
	"harvest/harvest/services/browser"
	"harvest/harvest/services/llm"
)

type Config struct {
	APIToken   string
	ListenAddr string
	LogDir     string

	LLM     llm.Config
	Planner llm.Config

	PlannerInterval     int
	UseVisionForPlanner bool
	MaxSteps            int
	MaxFailures         int
	RunTimeout          time.Duration
	MaxPages            int
	OutputPolicy        core.OutputPolicy
	MonitorInterval     time.Duration
	AgentConfigFile     string

	Headless          bool
	DisableSecurity   bool
	InstallBrowser    bool
	WindowWidth       int
	WindowHeight      int
	Locale            string
	UserAgent         string
	CookiesFile       string
	NetworkIdleWait   time.Duration
	HighlightElements bool
	ViewportExpansion int
}

// LoadConfig reads the environment. A .env file in the working directory is
// loaded first when present; variables already set win over it.
func LoadConfig() Config {
	_ = godotenv.Load()

	provider := getEnv("LLM_PROVIDER", llm.ProviderAzure)
	base := llm.Config{
		Provider:   provider,
		Endpoint:   getEnv("AZURE_OPENAI_ENDPOINT", ""),
		APIKey:     getEnv("AZURE_OPENAI_API_KEY", ""),
		APIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-10-21"),
		BaseURL:    getEnv("OPENAI_BASE_URL", ""),
	}
	if strings.EqualFold(provider, llm.ProviderOpenAI) {
		base.APIKey = getEnv("OPENAI_API_KEY", "")
	}
	primary, planner := base, base
	primary.Model = getEnv("LLM_MODEL", "gpt-4.1")
	primary.Temperature = getEnvFloat("LLM_TEMPERATURE", 1)
	planner.Model = getEnv("PLANNER_LLM_MODEL", "o3-mini")
	planner.Temperature = getEnvFloat("PLANNER_LLM_TEMPERATURE", 1)

	return Config{
		APIToken:   getEnv("API_TOKEN", ""),
		ListenAddr: getEnv("LISTEN_ADDR", ":8000"),
		LogDir:     getEnv("LOG_DIR", "./logs"),

		LLM:     primary,
		Planner: planner,

		PlannerInterval:     getEnvInt("PLANNER_INTERVAL", core.DefaultPlannerInterval),
		UseVisionForPlanner: getEnvBool("USE_VISION_FOR_PLANNER", false),
		MaxSteps:            getEnvInt("AGENT_MAX_STEPS", core.DefaultMaxSteps),
		MaxFailures:         getEnvInt("AGENT_MAX_FAILURES", core.DefaultMaxFailures),
		RunTimeout:          getEnvDuration("AGENT_RUN_TIMEOUT", 15*time.Minute),
		MaxPages:            getEnvInt("MAX_PAGES", 50),
		OutputPolicy:        core.OutputPolicy(strings.ToLower(getEnv("OUTPUT_POLICY", string(core.PolicyPassthrough)))),
		MonitorInterval:     getEnvDuration("MONITOR_INTERVAL", 100*time.Millisecond),
		AgentConfigFile:     getEnv("AGENT_CONFIG_FILE", ""),

		Headless:          getEnvBool("BROWSER_HEADLESS", true),
		DisableSecurity:   getEnvBool("BROWSER_DISABLE_SECURITY", true),
		InstallBrowser:    getEnvBool("BROWSER_INSTALL", false),
		WindowWidth:       getEnvInt("BROWSER_WINDOW_WIDTH", browser.DefaultWidth),
		WindowHeight:      getEnvInt("BROWSER_WINDOW_HEIGHT", browser.DefaultHeight),
		Locale:            getEnv("BROWSER_LOCALE", browser.DefaultLocale),
		UserAgent:         getEnv("BROWSER_USER_AGENT", browser.DefaultUserAgent),
		CookiesFile:       getEnv("COOKIES_FILE", browser.DefaultCookiesFile),
		NetworkIdleWait:   getEnvDuration("NETWORK_IDLE_WAIT", browser.DefaultNetworkIdleWait),
		HighlightElements: getEnvBool("HIGHLIGHT_ELEMENTS", true),
		ViewportExpansion: getEnvInt("VIEWPORT_EXPANSION", browser.DefaultViewportExpansion),
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN must be set"))
	}
	if c.OutputPolicy != core.PolicyPassthrough && c.OutputPolicy != core.PolicyStrict {
		errs = append(errs, errors.New("OUTPUT_POLICY must be passthrough or strict"))
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		errs = append(errs, errors.New("browser window size must be positive"))
	}
	return errors.Join(errs...)
}

// SessionConfig is the presentation every browser session shares.
func (c Config) SessionConfig() browser.SessionConfig {
	return browser.SessionConfig{
		Viewport:          browser.Viewport{Width: c.WindowWidth, Height: c.WindowHeight},
		Locale:            c.Locale,
		UserAgent:         c.UserAgent,
		CookiesFile:       c.CookiesFile,
		NetworkIdleWait:   c.NetworkIdleWait,
		HighlightElements: c.HighlightElements,
		ViewportExpansion: c.ViewportExpansion,
	}
}

// RunnerOptions carries the agent loop settings.
func (c Config) RunnerOptions() core.Options {
	return core.Options{
		PlannerInterval:     c.PlannerInterval,
		UseVisionForPlanner: c.UseVisionForPlanner,
		MaxSteps:            c.MaxSteps,
		MaxFailures:         c.MaxFailures,
		MaxPages:            c.MaxPages,
		OutputPolicy:        c.OutputPolicy,
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}
