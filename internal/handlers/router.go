package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-exam/exam-engine/internal/services"
	"github.com/open-exam/exam-engine/internal/utils"
	"github.com/open-exam/exam-engine/internal/validator"
)

// HandlerManager wires every handler to the router.
type HandlerManager struct {
	templateHandler *TemplateHandler
	sessionHandler  *SessionHandler
	gradingHandler  *GradingHandler
	resultsHandler  *ResultsHandler
	questionHandler *QuestionHandler
	bankHandler     *QuestionBankHandler
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		templateHandler: NewTemplateHandler(serviceManager.Template(), validator, logger),
		sessionHandler:  NewSessionHandler(serviceManager.Session(), serviceManager.Manifest(), validator, logger),
		gradingHandler:  NewGradingHandler(serviceManager.Grading(), validator, logger),
		resultsHandler:  NewResultsHandler(serviceManager.Results(), logger),
		questionHandler: NewQuestionHandler(serviceManager.Question(), validator, logger),
		bankHandler:     NewQuestionBankHandler(serviceManager.QuestionBank(), validator, logger),
	}
}

// SetupRoutes registers all API routes.
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	staff := RequireRoleMiddleware(services.RoleAdmin, services.RoleTeacher)

	v1 := router.Group("/api/v1")
	v1.Use(IdentityMiddleware())
	{
		// Template routes
		templates := v1.Group("/templates")
		{
			templates.POST("", staff, hm.templateHandler.CreateTemplate)
			templates.GET("", staff, hm.templateHandler.ListTemplates)
			templates.GET("/:id", staff, hm.templateHandler.GetTemplate)
			templates.PUT("/:id", staff, hm.templateHandler.UpdateTemplate)
			templates.DELETE("/:id", staff, hm.templateHandler.DeleteTemplate)
			templates.POST("/:id/compile", staff, hm.templateHandler.CompileTemplate)
		}

		// Session routes
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", staff, hm.sessionHandler.CreateSession)
			sessions.GET("", staff, hm.sessionHandler.ListSessions)
			sessions.GET("/:id", hm.sessionHandler.GetSession)
			sessions.PUT("/:id", staff, hm.sessionHandler.UpdateSession)

			// Participant state machine
			sessions.POST("/:id/start", hm.sessionHandler.StartExam)
			sessions.PUT("/:id/answers", hm.sessionHandler.SaveAnswer)
			sessions.POST("/:id/submit", hm.sessionHandler.SubmitExam)
			sessions.GET("/:id/submission", hm.sessionHandler.GetSubmission)
			sessions.GET("/:id/manifest", hm.sessionHandler.GetManifest)

			// Proctoring
			sessions.POST("/:id/violations", hm.sessionHandler.RecordViolation)
			sessions.GET("/:id/violations/:participant_id", staff, hm.sessionHandler.GetViolations)

			// Administrative
			sessions.POST("/:id/preview", staff, hm.sessionHandler.PreviewManifest)
			sessions.POST("/:id/admin-actions", staff, hm.sessionHandler.ApplyAdminAction)

			// Results
			sessions.GET("/:id/results", hm.resultsHandler.GetOwnScorecard)
			sessions.GET("/:id/results/all", staff, hm.resultsHandler.GetSessionResults)
			sessions.GET("/:id/results/:participant_id", hm.resultsHandler.GetParticipantScorecard)
			sessions.POST("/:id/results/publish", staff, hm.resultsHandler.PublishResults)
			sessions.GET("/:id/stats", staff, hm.resultsHandler.GetSessionStats)
		}

		// Grading routes
		grading := v1.Group("/grading")
		grading.Use(staff)
		{
			grading.POST("/answers/:id", hm.gradingHandler.GradeEssayAnswer)
			grading.POST("/sessions/:id/regrade", hm.gradingHandler.RegradeSession)
		}

		// Question routes
		questions := v1.Group("/questions")
		questions.Use(staff)
		{
			questions.POST("", hm.questionHandler.CreateQuestion)
			questions.GET("", hm.questionHandler.ListQuestions)
			questions.GET("/:id", hm.questionHandler.GetQuestion)
			questions.PUT("/:id", hm.questionHandler.UpdateQuestion)
			questions.DELETE("/:id", hm.questionHandler.DeleteQuestion)
		}

		// Question bank routes
		banks := v1.Group("/banks")
		banks.Use(staff)
		{
			banks.POST("", hm.bankHandler.CreateBank)
			banks.GET("", hm.bankHandler.ListBanks)
			banks.GET("/:id", hm.bankHandler.GetBank)
			banks.DELETE("/:id", hm.bankHandler.DeleteBank)
			banks.POST("/:id/questions", hm.bankHandler.AddQuestions)
			banks.DELETE("/:id/questions", hm.bankHandler.RemoveQuestions)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "exam-engine",
		})
	})
}
