package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/open-exam/exam-engine/internal/events"
	"github.com/open-exam/exam-engine/internal/repositories"
	"github.com/open-exam/exam-engine/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	EnableDebugLogging bool
	LogLevel           slog.Level

	// Service-specific configurations
	Template ServiceConfig
	Session  ServiceConfig
	Grading  ServiceConfig
	Results  ServiceConfig

	// SweepInterval is how often the deadline sweeper closes expired
	// submissions. Zero disables the sweeper.
	SweepInterval time.Duration

	DefaultTimeout time.Duration
}

type ServiceConfig struct {
	Enabled         bool
	CacheEnabled    bool
	CacheTTL        time.Duration
	AuditingEnabled bool
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	// Dependencies
	db        *gorm.DB
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	config    ServiceManagerConfig

	// Service instances
	templateService     TemplateService
	manifestService     ManifestService
	sessionService      SessionService
	gradingService      GradingService
	resultsService      ResultsService
	questionService     QuestionService
	questionBankService QuestionBankService

	// Lifecycle management
	initialized bool
	shutdown    bool
	sweepStop   chan struct{}
	sweepDone   chan struct{}
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(
	db *gorm.DB,
	repo repositories.Repository,
	logger *slog.Logger,
	v *validator.Validator,
	publisher events.EventPublisher,
	config ServiceManagerConfig,
) ServiceManager {
	return &serviceManager{
		db:        db,
		repo:      repo,
		logger:    logger,
		validator: v,
		publisher: publisher,
		config:    config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration
func NewDefaultServiceManager(
	db *gorm.DB,
	repo repositories.Repository,
	logger *slog.Logger,
	v *validator.Validator,
	publisher events.EventPublisher,
	sweepInterval time.Duration,
) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		LogLevel:           slog.LevelInfo,

		Template: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        10 * time.Minute,
			AuditingEnabled: true,
		},
		Session: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        time.Minute,
			AuditingEnabled: true,
		},
		Grading: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			AuditingEnabled: true,
		},
		Results: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        5 * time.Minute,
			AuditingEnabled: true,
		},

		SweepInterval:  sweepInterval,
		DefaultTimeout: 30 * time.Second,
	}

	return NewServiceManager(db, repo, logger, v, publisher, config)
}

// Initialize sets up all services and starts the deadline sweeper
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	sm.initializeServices()

	sm.initialized = true

	if sm.config.SweepInterval > 0 {
		sm.sweepStop = make(chan struct{})
		sm.sweepDone = make(chan struct{})
		go sm.runSweeper()
	}

	sm.logger.Info("Service manager initialized successfully")
	return nil
}

func (sm *serviceManager) initializeServices() {
	sm.templateService = NewTemplateService(sm.repo, sm.db, sm.logger, sm.validator)
	sm.logger.Info("Template service initialized")

	sm.manifestService = NewManifestService(sm.repo, sm.db, sm.logger)
	sm.logger.Info("Manifest service initialized")

	sm.gradingService = NewGradingService(sm.repo, sm.db, sm.logger, sm.validator, sm.publisher)
	sm.logger.Info("Grading service initialized")

	sm.sessionService = NewSessionService(sm.repo, sm.db, sm.logger, sm.validator, sm.publisher, sm.manifestService, sm.gradingService)
	sm.logger.Info("Session service initialized")

	sm.resultsService = NewResultsService(sm.repo, sm.db, sm.logger, sm.publisher)
	sm.logger.Info("Results service initialized")

	sm.questionService = NewQuestionService(sm.repo, sm.db, sm.logger, sm.validator)
	sm.logger.Info("Question service initialized")

	sm.questionBankService = NewQuestionBankService(sm.repo, sm.db, sm.logger, sm.validator)
	sm.logger.Info("QuestionBank service initialized")
}

// runSweeper drives SweepExpired on a fixed interval until shutdown.
func (sm *serviceManager) runSweeper() {
	defer close(sm.sweepDone)

	ticker := time.NewTicker(sm.config.SweepInterval)
	defer ticker.Stop()

	sm.logger.Info("Deadline sweeper started", "interval", sm.config.SweepInterval)

	for {
		select {
		case <-sm.sweepStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sm.config.DefaultTimeout)
			if _, err := sm.sessionService.SweepExpired(ctx); err != nil {
				sm.logger.Error("Deadline sweep failed", "error", err)
			}
			cancel()
		}
	}
}

// ===== SERVICE GETTERS =====

func (sm *serviceManager) Template() TemplateService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.templateService != nil {
		return sm.templateService
	}
	panic("template service not initialized")
}

func (sm *serviceManager) Manifest() ManifestService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.manifestService != nil {
		return sm.manifestService
	}
	panic("manifest service not initialized")
}

func (sm *serviceManager) Session() SessionService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.sessionService != nil {
		return sm.sessionService
	}
	panic("session service not initialized")
}

func (sm *serviceManager) Grading() GradingService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.gradingService != nil {
		return sm.gradingService
	}
	panic("grading service not initialized")
}

func (sm *serviceManager) Results() ResultsService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.resultsService != nil {
		return sm.resultsService
	}
	panic("results service not initialized")
}

func (sm *serviceManager) Question() QuestionService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.questionService != nil {
		return sm.questionService
	}
	panic("question service not initialized")
}

func (sm *serviceManager) QuestionBank() QuestionBankService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.questionBankService != nil {
		return sm.questionBankService
	}
	panic("question bank service not initialized")
}

// ===== HEALTH AND LIFECYCLE =====

func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if manager, ok := sm.repo.(repositories.RepositoryManager); ok {
		if err := manager.HealthCheck(ctx); err != nil {
			return fmt.Errorf("repository health check failed: %w", err)
		}
	}

	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.sweepStop != nil {
		close(sm.sweepStop)
		select {
		case <-sm.sweepDone:
		case <-ctx.Done():
		}
	}

	if sm.publisher != nil {
		if err := sm.publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	if manager, ok := sm.repo.(repositories.RepositoryManager); ok {
		if err := manager.Shutdown(ctx); err != nil {
			sm.logger.Error("Failed to shutdown repository manager", "error", err)
		}
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")

	return nil
}
