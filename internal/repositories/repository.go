package repositories

import "context"

// Repository aggregates every sub-repository behind one interface.
type Repository interface {
	// Authoring domain
	QuestionBank() QuestionBankRepository
	Question() QuestionRepository
	Template() TemplateRepository

	// Session domain
	Session() SessionRepository
	Manifest() ManifestRepository
	Submission() SubmissionRepository
	Answer() AnswerRepository
	Violation() ViolationRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	// Initialize repositories with database connections
	Initialize() error

	// Get repository instance
	GetRepository() Repository

	// Health check for all repositories
	HealthCheck(ctx context.Context) error

	// Graceful shutdown
	Shutdown(ctx context.Context) error
}
