package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Milvus     MilvusConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Search     SearchConfig
	Research   ResearchConfig
	Gap        GapConfig
	QA         QAConfig
	Evaluation EvaluationConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type MilvusConfig struct {
	Endpoint         string
	APIKey           string
	CollectionPrefix string
	VectorDim        int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

type LLMConfig struct {
	APIKey         string
	FastModel      string
	SynthModel     string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	MaxConcurrent  int
}

type SearchConfig struct {
	RRFConstant    int
	ResultLimit    int
	SecondaryLimit int
	Overfetch      int
	PreviewLength  int
}

type ResearchConfig struct {
	MaxSubQueries    int
	ResultsPerQuery  int
	MaxContextItems  int
	EnableReranking  bool
	RerankCandidates int
	StageTimeoutSec  int
}

type GapConfig struct {
	SimilarityThreshold  float64
	TranscriptCharBudget int
}

type QAConfig struct {
	ScoreConcurrency int
}

type EvaluationConfig struct {
	MaxConcurrent int
	QuestionLimit int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/support-copilot")

	viper.SetEnvPrefix("COPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 120)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionPrefix", "copilot")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("sqlite.path", "./data/copilot.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", true)

	viper.SetDefault("llm.fastModel", "gpt-4o-mini")
	viper.SetDefault("llm.synthModel", "gpt-4o")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.maxConcurrent", 8)

	viper.SetDefault("search.rrfConstant", 60)
	viper.SetDefault("search.resultLimit", 10)
	viper.SetDefault("search.secondaryLimit", 5)
	viper.SetDefault("search.overfetch", 20)
	viper.SetDefault("search.previewLength", 500)

	viper.SetDefault("research.maxSubQueries", 4)
	viper.SetDefault("research.resultsPerQuery", 5)
	viper.SetDefault("research.maxContextItems", 15)
	viper.SetDefault("research.enableReranking", true)
	viper.SetDefault("research.rerankCandidates", 10)
	viper.SetDefault("research.stageTimeoutSec", 20)

	viper.SetDefault("gap.similarityThreshold", 0.85)
	viper.SetDefault("gap.transcriptCharBudget", 8000)

	viper.SetDefault("qa.scoreConcurrency", 5)

	viper.SetDefault("evaluation.maxConcurrent", 5)
	viper.SetDefault("evaluation.questionLimit", 100)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
