package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"kbrag/config"
	"kbrag/controller"
	"kbrag/services"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"google.golang.org/genai"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables.")
	}

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	httpClient := &http.Client{
		Timeout: 120 * time.Second,
	}

	store, err := services.NewKBStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("FATAL: Failed to open data directory: %v", err)
	}

	index, cleanup, err := buildIndex(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to create vector index backend: %v", err)
	}
	defer cleanup()

	embedder := buildEmbedder(cfg, httpClient)
	llm := buildLLM(cfg)

	captioner := services.NewOllamaCaptioner(httpClient, cfg.OllamaURL)
	normalizers := services.DefaultNormalizerRegistry(captioner)
	manager := services.NewKBManager(store, index, embedder, normalizers)

	reranker := services.NewHTTPReranker(httpClient, cfg.RerankURL, cfg.RerankAPIKey, cfg.RerankModel)
	retrieval := services.NewRetrievalService(index, embedder, reranker)
	answerer := services.NewAnswerService(llm)

	kbController := controller.NewKBController(manager, retrieval, answerer, cfg.DefaultSettings(), cfg.ChunkSize, cfg.ChunkOverlap)

	// Setup Gin router
	router := gin.Default()

	// Add CORS middleware for testing
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "kbrag",
			"version": "1.0.0",
		})
	})

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/kb", kbController.CreateKB)
		apiV1.GET("/kb", kbController.ListKBs)
		apiV1.GET("/kb/:name", kbController.GetKB)
		apiV1.POST("/kb/:name/files", kbController.AddFiles)
		apiV1.DELETE("/kb/:name/files", kbController.RemoveFiles)
		apiV1.DELETE("/kb/:name", kbController.DestroyKB)
		apiV1.POST("/retrieve", kbController.Retrieve)
		apiV1.POST("/query", kbController.Query)
	}

	// Optional drop folder mirrored into one knowledge base.
	if cfg.WatchDir != "" && cfg.WatchKB != "" {
		watcher := services.NewDropFolderWatcher(manager, cfg.WatchKB, cfg.ChunkOverlap)
		go watcher.Watch(context.Background(), cfg.WatchDir)
	}

	log.Printf("kbrag server starting on http://localhost:%s", cfg.Port)
	log.Printf("Health check available at: http://localhost:%s/health", cfg.Port)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("FATAL: Failed to start server: %v", err)
	}
}

// buildIndex selects the vector index backend. The flat index needs no
// teardown; the Chroma client must be closed to release resources.
func buildIndex(cfg *config.Config) (services.VectorIndex, func(), error) {
	switch cfg.IndexBackend {
	case "chroma":
		chromaClient, err := chromago.NewHTTPClient()
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := chromaClient.Close(); err != nil {
				log.Printf("Warning: Failed to close chroma client: %v", err)
			}
		}
		log.Println("Using Chroma vector index backend.")
		return services.NewChromaIndex(chromaClient), cleanup, nil
	default:
		log.Println("Using flat vector index backend.")
		return services.NewFlatIndex(cfg.DataDir), func() {}, nil
	}
}

func buildEmbedder(cfg *config.Config, httpClient *http.Client) services.Embedder {
	switch cfg.EmbeddingBackend {
	case "openai":
		log.Println("Using OpenAI embeddings.")
		return services.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	default:
		log.Printf("Using Ollama embeddings (%s).", cfg.EmbeddingModel)
		return services.NewOllamaEmbedder(httpClient, cfg.OllamaURL, cfg.EmbeddingModel)
	}
}

func buildLLM(cfg *config.Config) services.LLMProvider {
	switch cfg.LLMBackend {
	case "gemini":
		geminiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey:  cfg.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to create Gemini client: %v. Make sure GEMINI_API_KEY is set.", err)
		}
		log.Println("Successfully connected to Google Gemini.")
		return services.NewGeminiGenerator(geminiClient)
	case "openai":
		log.Println("Using OpenAI chat completions.")
		return services.NewOpenAIGenerator(cfg.OpenAIAPIKey)
	default:
		log.Printf("Using Ollama LLM backend at %s.", cfg.OllamaURL)
		return services.NewOllamaGenerator(cfg.OllamaURL)
	}
}
