package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxToolRounds int    `json:"max_tool_rounds"`
	ResultLimit   int    `json:"result_limit"`
	HTTP          struct {
		Listen    string `json:"listen"`
		StaticDir string `json:"static_dir"`
	} `json:"http"`
	LLM struct {
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
	} `json:"llm"`
	MCP struct {
		BaseURL         string `json:"base_url"`
		Transport       string `json:"transport"` // "direct" or "proxy"
		CallbackPort    int    `json:"callback_port"`
		AuthTimeoutSecs int    `json:"auth_timeout_secs"`
	} `json:"mcp"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".munch"),
		LogLevel:      "info",
		MaxToolRounds: 10,
		ResultLimit:   2000,
	}
	cfg.HTTP.Listen = ":3000"
	cfg.HTTP.StaticDir = "web"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o"
	cfg.LLM.MaxTokens = 4096
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.MCP.BaseURL = "https://mcp-server.zomato.com/mcp"
	cfg.MCP.Transport = "direct"
	cfg.MCP.CallbackPort = 8085
	cfg.MCP.AuthTimeoutSecs = 300

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if mcpURL := os.Getenv("MUNCH_MCP_URL"); mcpURL != "" {
		cfg.MCP.BaseURL = mcpURL
	}
	if transport := os.Getenv("MUNCH_MCP_TRANSPORT"); transport != "" {
		cfg.MCP.Transport = transport
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTP.Listen = ":" + port
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
