package api

import (
	"github.com/Harshitk-cp/twinledger/internal/config"
	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/embedding"
	"github.com/Harshitk-cp/twinledger/internal/events"
	"github.com/Harshitk-cp/twinledger/internal/llm"
	"github.com/Harshitk-cp/twinledger/internal/metrics"
	"github.com/Harshitk-cp/twinledger/internal/service"
	"go.uber.org/zap"
)

// Services is the wired service graph shared by the HTTP server, the MCP
// server and the admin CLI.
type Services struct {
	Beliefs    *service.BeliefService
	Graph      *service.GraphService
	Jobs       *service.JobService
	Escalation *service.EscalationRouter
	Answers    *service.AnswerService
	Documents  *service.DocumentService
	Runner     *service.Runner
	Sweeper    *service.SweeperService
	Metrics    *metrics.Metrics
}

// Clients are the external collaborators. A nil Events publishes nothing.
type Clients struct {
	Embedder domain.EmbeddingClient
	LLM      domain.LLMClient
	Events   domain.EventPublisher
}

// NewClients builds the LLM and embedding clients from configuration. A
// provider that fails to initialize falls back to its mock so the rest of
// the service still starts.
func NewClients(logger *zap.Logger) Clients {
	var c Clients

	llmProvider := config.LLMProvider()
	llmClient, err := llm.NewClient(llmProvider, config.LLMAPIKey())
	if err != nil {
		logger.Warn("LLM client initialization failed, using mock", zap.String("provider", llmProvider), zap.Error(err))
		llmClient = llm.NewMockClient()
	} else {
		logger.Info("LLM client initialized", zap.String("provider", llmProvider))
	}
	c.LLM = llmClient

	embeddingProvider := config.EmbeddingProvider()
	embeddingClient, err := embedding.NewClient(embeddingProvider, config.EmbeddingAPIKey())
	if err != nil {
		logger.Warn("Embedding client initialization failed, using mock", zap.String("provider", embeddingProvider), zap.Error(err))
		embeddingClient = embedding.NewMockClient()
	} else {
		logger.Info("Embedding client initialized", zap.String("provider", embeddingProvider))
	}
	if oc, ok := embeddingClient.(*embedding.OpenAIClient); ok && config.EmbeddingURL() != "" {
		oc.SetURL(config.EmbeddingURL())
	}
	c.Embedder = embeddingClient
	return c
}

// NewServices wires every service on top of a backend.
func NewServices(b *Backend, clients Clients, m *metrics.Metrics, logger *zap.Logger) (*Services, error) {
	pub := clients.Events
	if pub == nil {
		pub = events.Noop{}
	}

	policies, err := service.LoadRetryPolicies(config.JobPolicyFile())
	if err != nil {
		return nil, err
	}

	beliefs := service.NewBeliefService(b.Beliefs, logger)
	beliefs.SetEventPublisher(pub)
	beliefs.SetMetrics(m)

	graph := service.NewGraphService(b.Graph, logger)
	graph.SetEventPublisher(pub)

	jobs := service.NewJobService(b.Jobs, logger)
	jobs.SetRetryPolicies(policies)
	jobs.SetEventPublisher(pub)
	jobs.SetMetrics(m)

	evaluator := service.NewConfidenceEvaluator(confidenceConfig())
	router := service.NewEscalationRouter(evaluator, beliefs, jobs, service.EscalationConfig{
		Threshold:      config.EscalationThreshold(),
		Priority:       config.EscalationPriority(),
		ProposeAnswers: config.EscalationProposeAnswers(),
	}, logger)
	router.SetEventPublisher(pub)
	router.SetMetrics(m)

	answers := service.NewAnswerService(beliefs, b.Documents, clients.Embedder, clients.LLM, router, logger)
	answers.SetTopK(config.RetrievalTopK())
	answers.SetLLMTimeout(config.LLMTimeout())

	ingest := service.NewIngestHandler(b.Documents, clients.Embedder, logger)
	ingest.SetProgressReporter(jobs)

	runner := service.NewRunner(jobs, logger)
	runner.Register(domain.JobTypeIngestion, ingest)
	runner.Register(domain.JobTypeReindex, ingest)
	runner.Register(domain.JobTypeHealthCheck, service.NewHealthCheckHandler(b.Documents, logger))
	runner.SetConcurrency(config.WorkerConcurrency())
	runner.SetPollInterval(config.WorkerPollInterval())
	runner.SetJobTimeout(config.JobTimeout())

	sweeper := service.NewSweeperService(jobs, logger)
	sweeper.SetInterval(config.SweeperInterval())
	sweeper.SetStaleAfter(config.JobStaleAfter())

	return &Services{
		Beliefs:    beliefs,
		Graph:      graph,
		Jobs:       jobs,
		Escalation: router,
		Answers:    answers,
		Documents:  service.NewDocumentService(b.Documents, jobs, logger),
		Runner:     runner,
		Sweeper:    sweeper,
		Metrics:    m,
	}, nil
}

func confidenceConfig() service.ConfidenceConfig {
	cfg := service.DefaultConfidenceConfig()
	if v := config.ConfidenceTopK(); v > 0 {
		cfg.TopK = v
	}
	if v := config.ConfidenceDecay(); v > 0 {
		cfg.Decay = v
	}
	if v := config.ConfidenceSimilarityFloor(); v > 0 {
		cfg.SimilarityFloor = v
	}
	if v := config.ConfidenceMinOverlap(); v > 0 {
		cfg.MinOverlap = v
	}
	if v := config.ConfidenceSimilarityWeight(); v > 0 {
		cfg.SimilarityWeight = v
	}
	if v := config.ConfidenceCoverageWeight(); v > 0 {
		cfg.CoverageWeight = v
	}
	return cfg
}

// Ensure clients satisfy interfaces at compile time.
var (
	_ domain.EmbeddingClient = (*embedding.OpenAIClient)(nil)
	_ domain.EmbeddingClient = (*embedding.MockClient)(nil)
	_ domain.LLMClient       = (*llm.ChatClient)(nil)
	_ domain.LLMClient       = (*llm.AnthropicClient)(nil)
	_ domain.LLMClient       = (*llm.GeminiClient)(nil)
	_ domain.LLMClient       = (*llm.MockClient)(nil)
)
