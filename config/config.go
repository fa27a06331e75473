package config

import (
	"fmt"
	"os"

	"kbrag/models"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, loaded from a YAML file with secrets
// pulled from the environment. All retrieval and generation parameters here
// are defaults only; each request may override them.
type Config struct {
	Port    string `yaml:"port"`
	DataDir string `yaml:"data_dir"`

	OllamaURL string `yaml:"ollama_url"`

	// Backend selection: "ollama" or "openai" for embeddings;
	// "ollama", "gemini" or "openai" for the LLM; "flat" or "chroma"
	// for the vector index.
	EmbeddingBackend string `yaml:"embedding_backend"`
	LLMBackend       string `yaml:"llm_backend"`
	IndexBackend     string `yaml:"index_backend"`

	EmbeddingModel string `yaml:"embedding_model"`
	LLMModel       string `yaml:"llm_model"`
	ImgModel       string `yaml:"img_model"`
	RerankModel    string `yaml:"rerank_model"`
	RerankURL      string `yaml:"rerank_url"`

	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
	TopN         int     `yaml:"top_n"`
	TopK         int     `yaml:"top_k"`
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`

	// Optional drop folder mirrored into WatchKB.
	WatchDir string `yaml:"watch_dir"`
	WatchKB  string `yaml:"watch_kb"`

	// Secrets, environment only.
	OpenAIAPIKey string `yaml:"-"`
	GeminiAPIKey string `yaml:"-"`
	RerankAPIKey string `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		Port:             "8080",
		DataDir:          "vectorstores",
		OllamaURL:        "http://127.0.0.1:11434",
		EmbeddingBackend: "ollama",
		LLMBackend:       "ollama",
		IndexBackend:     "flat",
		EmbeddingModel:   "bge-m3",
		LLMModel:         "deepseek-r1:8b",
		ImgModel:         "gemma3:27b",
		RerankModel:      "BAAI/bge-reranker-v2-m3",
		RerankURL:        "https://api.siliconflow.cn/v1/rerank",
		Temperature:      0.0,
		TopP:             0.9,
		TopN:             10,
		TopK:             5,
		ChunkSize:        1000,
		ChunkOverlap:     100,
	}
}

// Load reads the YAML config at path (missing file keeps defaults) and
// applies environment overrides. Call godotenv.Load before this so .env
// values are visible.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not read config %s: %w", path, err)
	}

	if v := os.Getenv("KBRAG_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("KBRAG_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		cfg.OllamaURL = v
	}
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.RerankAPIKey = os.Getenv("RERANK_API_KEY")

	return cfg, nil
}

// DefaultSettings builds the per-request retrieval settings from the
// configured defaults.
func (c *Config) DefaultSettings() models.RetrievalSettings {
	return models.RetrievalSettings{
		Method:      models.SearchBasic,
		TopK:        c.TopK,
		TopN:        c.TopN,
		LLMModel:    c.LLMModel,
		Temperature: c.Temperature,
		TopP:        c.TopP,
	}
}
