// Package config loads the YAML configuration consumed by the session API
// (internal/session) to wire a provider, an adapter, and the loop's bounds.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig selects and configures a model provider (internal/llm).
// ModelTier picks a coarse tier ("fast"|"balanced"|"powerful") that the
// provider factory resolves to a concrete model ID; Model, when set,
// overrides the tier with an explicit model ID.
type ProviderConfig struct {
	Name      string    `yaml:"name" json:"name"` // "anthropic" | "openai" | "google"
	ModelTier ModelTier `yaml:"modelTier,omitempty" json:"modelTier,omitempty"`
	Model     string    `yaml:"model,omitempty" json:"model,omitempty"`
	APIKey    string    `yaml:"apiKey" json:"apiKey"`
	BaseURL   string    `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
}

// AnthropicPromptCacheConfig tunes Anthropic prompt-cache breakpoint
// placement (internal/llm/anthropic).
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	CacheSystem   bool `yaml:"cacheSystem" json:"cacheSystem"`
	CacheTools    bool `yaml:"cacheTools" json:"cacheTools"`
	CacheMessages bool `yaml:"cacheMessages" json:"cacheMessages"`
}

// AnthropicConfig configures internal/llm/anthropic's client.
type AnthropicConfig struct {
	APIKey      string                     `yaml:"apiKey" json:"apiKey"`
	BaseURL     string                     `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
	Model       string                     `yaml:"model" json:"model"`
	PromptCache AnthropicPromptCacheConfig `yaml:"promptCache,omitempty" json:"promptCache,omitempty"`
	ExtraParams map[string]any             `yaml:"extraParams,omitempty" json:"extraParams,omitempty"`
}

// OpenAIConfig configures internal/llm/openai's client. API selects the
// wire surface: "chat" (default), "completions" (for local/self-hosted
// servers), or "responses".
type OpenAIConfig struct {
	APIKey      string         `yaml:"apiKey" json:"apiKey"`
	BaseURL     string         `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
	Model       string         `yaml:"model" json:"model"`
	API         string         `yaml:"api,omitempty" json:"api,omitempty"`
	ExtraParams map[string]any `yaml:"extraParams,omitempty" json:"extraParams,omitempty"`
	LogPayloads bool           `yaml:"logPayloads,omitempty" json:"logPayloads,omitempty"`
}

// GoogleConfig configures internal/llm/google's client.
type GoogleConfig struct {
	APIKey  string `yaml:"apiKey" json:"apiKey"`
	BaseURL string `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
	Model   string `yaml:"model" json:"model"`
	Timeout int    `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`
}

// LLMClientConfig selects and configures one of the three concrete provider
// clients; it's what internal/llm/providers.Build actually consumes.
type LLMClientConfig struct {
	Provider  string         `yaml:"provider" json:"provider"` // "openai" | "local" | "anthropic" | "google"
	OpenAI    OpenAIConfig   `yaml:"openai,omitempty" json:"openai,omitempty"`
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty" json:"anthropic,omitempty"`
	Google    GoogleConfig   `yaml:"google,omitempty" json:"google,omitempty"`
}

// Config wraps LLMClientConfig for internal/llm/providers.Build. It exists
// distinct from SessionConfig because the provider factory only needs the
// model-client surface, not the loop/adapter/memory bounds a session also
// carries; ToLLMConfig derives it from a SessionConfig's ProviderConfig.
type Config struct {
	LLMClient LLMClientConfig
}

// modelsByTier maps a coarse tier to a concrete model ID per provider,
// used when a ProviderConfig sets ModelTier instead of an explicit Model.
var modelsByTier = map[string]map[ModelTier]string{
	"anthropic": {
		ModelTierFast:     "claude-haiku-4-5",
		ModelTierBalanced: "claude-sonnet-4-5",
		ModelTierPowerful: "claude-opus-4-5",
	},
	"openai": {
		ModelTierFast:     "gpt-5-mini",
		ModelTierBalanced: "gpt-5",
		ModelTierPowerful: "gpt-5-pro",
	},
	"google": {
		ModelTierFast:     "gemini-2.5-flash",
		ModelTierBalanced: "gemini-2.5-pro",
		ModelTierPowerful: "gemini-2.5-pro",
	},
}

// ResolveModel returns pc.Model when set, else the concrete model ID for
// pc.ModelTier under the given provider (defaulting to "balanced" when
// ModelTier is empty).
func (pc ProviderConfig) ResolveModel() string {
	if pc.Model != "" {
		return pc.Model
	}
	tier := pc.ModelTier
	if tier == "" {
		tier = ModelTierBalanced
	}
	if tiers, ok := modelsByTier[pc.Name]; ok {
		if m, ok := tiers[tier]; ok {
			return m
		}
	}
	return ""
}

// ToLLMConfig derives the provider-client Config internal/llm/providers.Build
// expects from this SessionConfig's ProviderConfig.
func (sc SessionConfig) ToLLMConfig() Config {
	model := sc.Provider.ResolveModel()
	switch sc.Provider.Name {
	case "anthropic":
		return Config{LLMClient: LLMClientConfig{
			Provider: "anthropic",
			Anthropic: AnthropicConfig{
				APIKey:  sc.Provider.APIKey,
				BaseURL: sc.Provider.BaseURL,
				Model:   model,
				PromptCache: AnthropicPromptCacheConfig{
					Enabled: sc.Memory.EnableCaching,
				},
			},
		}}
	case "google":
		return Config{LLMClient: LLMClientConfig{
			Provider: "google",
			Google: GoogleConfig{
				APIKey:  sc.Provider.APIKey,
				BaseURL: sc.Provider.BaseURL,
				Model:   model,
			},
		}}
	case "local":
		return Config{LLMClient: LLMClientConfig{
			Provider: "local",
			OpenAI: OpenAIConfig{
				APIKey:  sc.Provider.APIKey,
				BaseURL: sc.Provider.BaseURL,
				Model:   model,
				API:     "completions",
			},
		}}
	default:
		return Config{LLMClient: LLMClientConfig{
			Provider: "openai",
			OpenAI: OpenAIConfig{
				APIKey:  sc.Provider.APIKey,
				BaseURL: sc.Provider.BaseURL,
				Model:   model,
			},
		}}
	}
}

// AdapterConfig configures the reference HTTP/JSON-RPC action adapter
// (internal/adapter). CanvasID is sent as the X-Canvas-Id header.
type AdapterConfig struct {
	BaseURL  string        `yaml:"baseURL" json:"baseURL"`
	CanvasID string        `yaml:"canvasId" json:"canvasId"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`

	RetryInitialDelay time.Duration `yaml:"retryInitialDelay" json:"retryInitialDelay"`
	RetryMaxDelay     time.Duration `yaml:"retryMaxDelay" json:"retryMaxDelay"`
	RetryMultiplier   float64       `yaml:"retryMultiplier" json:"retryMultiplier"`
	RetryJitter       float64       `yaml:"retryJitter" json:"retryJitter"`
	MaxRetries        int           `yaml:"maxRetries" json:"maxRetries"`

	CircuitFailureThreshold int           `yaml:"circuitFailureThreshold" json:"circuitFailureThreshold"`
	CircuitResetTimeout     time.Duration `yaml:"circuitResetTimeout" json:"circuitResetTimeout"`
}

// MemoryConfig configures the tiered context manager (internal/context,
// internal/memory, internal/compression).
type MemoryConfig struct {
	MaxTokens             int     `yaml:"maxTokens" json:"maxTokens"`
	ResponseReserveTokens int     `yaml:"responseReserveTokens" json:"responseReserveTokens"`
	ToolReserveTokens     int     `yaml:"toolReserveTokens" json:"toolReserveTokens"`
	EnableCaching         bool    `yaml:"enableCaching" json:"enableCaching"`
	CompressionThreshold  float64 `yaml:"compressionThreshold" json:"compressionThreshold"`
	EvictionThreshold     float64 `yaml:"evictionThreshold" json:"evictionThreshold"`
	RecentWindowTurns     int     `yaml:"recentWindowTurns" json:"recentWindowTurns"`
}

// RedisConfig configures an optional shared Redis backing store. It follows
// the teacher's internal/skills.RedisSkillsCache config shape.
type RedisConfig struct {
	Enabled               bool   `yaml:"enabled" json:"enabled"`
	Addr                  string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password              string `yaml:"password,omitempty" json:"password,omitempty"`
	DB                    int    `yaml:"db,omitempty" json:"db,omitempty"`
	TLSInsecureSkipVerify bool   `yaml:"tlsInsecureSkipVerify,omitempty" json:"tlsInsecureSkipVerify,omitempty"`
}

// HygieneConfig configures context hygiene (internal/hygiene): tool-output
// aging thresholds and the echo-poisoning loop detector.
type HygieneConfig struct {
	LoopWindow    time.Duration `yaml:"loopWindow" json:"loopWindow"`
	LoopThreshold int           `yaml:"loopThreshold" json:"loopThreshold"`
	// Redis, when enabled, shares the echo-poisoning rolling window across
	// every replica of this engine talking to the same Redis instance,
	// instead of each replica tracking its own in-process window.
	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// SessionConfig is the top-level, enumerated configuration accepted by a
// session (spec §6 Configuration).
type SessionConfig struct {
	Provider ProviderConfig `yaml:"provider" json:"provider"`
	Adapter  AdapterConfig  `yaml:"adapter" json:"adapter"`
	Memory   MemoryConfig   `yaml:"memory" json:"memory"`
	Hygiene  HygieneConfig  `yaml:"hygiene,omitempty" json:"hygiene,omitempty"`

	MaxIterations            int    `yaml:"maxIterations" json:"maxIterations"`
	TokenBudget               int    `yaml:"tokenBudget" json:"tokenBudget"`
	MaxErrors                int    `yaml:"maxErrors" json:"maxErrors"`
	MaxRetries               int    `yaml:"maxRetries" json:"maxRetries"`
	CheckpointInterval       int    `yaml:"checkpointInterval" json:"checkpointInterval"`
	EnableParallelDelegation bool   `yaml:"enableParallelDelegation" json:"enableParallelDelegation"`
	MaxHistoryEntries        int    `yaml:"maxHistoryEntries" json:"maxHistoryEntries"`
	SystemPrompt             string `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`
	Verbose                  bool   `yaml:"verbose" json:"verbose"`

	MaxToolParallelism int `yaml:"maxToolParallelism" json:"maxToolParallelism"`

	MCP MCPConfig `yaml:"mcp,omitempty" json:"mcp,omitempty"`
}

// MCPTLSConfig tunes TLS verification for an HTTP-transport MCP server.
type MCPTLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecureSkipVerify,omitempty" json:"insecureSkipVerify,omitempty"`
}

// MCPHTTPConfig tunes the HTTP client used for an HTTP-transport MCP
// server.
type MCPHTTPConfig struct {
	ProxyURL       string       `yaml:"proxyUrl,omitempty" json:"proxyUrl,omitempty"`
	TimeoutSeconds int          `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`
	TLS            MCPTLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// MCPServerConfig describes one configured MCP server, reachable either by
// spawning a local command (stdio transport) or by URL (streamable HTTP).
type MCPServerConfig struct {
	Name             string            `yaml:"name" json:"name"`
	Command          string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args             []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env              map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	KeepAliveSeconds int               `yaml:"keepAliveSeconds,omitempty" json:"keepAliveSeconds,omitempty"`

	URL             string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	BearerToken     string            `yaml:"bearerToken,omitempty" json:"bearerToken,omitempty"`
	Origin          string            `yaml:"origin,omitempty" json:"origin,omitempty"`
	ProtocolVersion string            `yaml:"protocolVersion,omitempty" json:"protocolVersion,omitempty"`
	HTTP            MCPHTTPConfig     `yaml:"http,omitempty" json:"http,omitempty"`
}

// MCPConfig lists the MCP servers to connect the resource/tool surface to.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers,omitempty" json:"servers,omitempty"`
}

// HookConfig names a hook point and the shell/HTTP command or built-in
// handler identifier to invoke for it. SessionConfig has no field of this
// type, and nothing in this repository reads it.
type HookConfig struct {
	Point   string `yaml:"point" json:"point"`
	Handler string `yaml:"handler" json:"handler"`
}

// ModelTier is a coarse provider/model selector an operator can use instead
// of naming an exact model ID.
type ModelTier string

const (
	ModelTierFast     ModelTier = "fast"
	ModelTierBalanced ModelTier = "balanced"
	ModelTierPowerful ModelTier = "powerful"
)

// Default returns a SessionConfig populated with spec-mandated defaults.
func Default() SessionConfig {
	return SessionConfig{
		Adapter: AdapterConfig{
			Timeout:                 30 * time.Second,
			RetryInitialDelay:       1 * time.Second,
			RetryMaxDelay:           16 * time.Second,
			RetryMultiplier:         2,
			RetryJitter:             0.1,
			MaxRetries:              4,
			CircuitFailureThreshold: 5,
			CircuitResetTimeout:     30 * time.Second,
		},
		Memory: MemoryConfig{
			MaxTokens:             200_000,
			ResponseReserveTokens: 4_000,
			ToolReserveTokens:     8_000,
			EnableCaching:         true,
			CompressionThreshold:  0.7,
			EvictionThreshold:     0.9,
			RecentWindowTurns:     10,
		},
		Hygiene: HygieneConfig{
			LoopWindow:    60 * time.Second,
			LoopThreshold: 2,
		},
		MaxIterations:            20,
		TokenBudget:               200_000,
		MaxErrors:                3,
		MaxRetries:                3,
		CheckpointInterval:       5,
		EnableParallelDelegation: true,
		MaxHistoryEntries:        50,
		MaxToolParallelism:       4,
	}
}

// Load reads a YAML session configuration from path, starting from
// Default() so any field the file omits keeps its spec-mandated default.
// An empty path returns Default() unmodified.
func Load(path string) (SessionConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
