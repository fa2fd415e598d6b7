package validator

import (
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/open-exam/exam-engine/internal/models"
)

// Validator wraps struct validation with the engine's custom rules.
type Validator struct {
	validate *validator.Validate
}

// New creates a validator with all custom rules registered.
func New() *Validator {
	validate := validator.New()

	v := &Validator{validate: validate}
	v.registerRules()

	return v
}

// Validate runs struct validation and returns ValidationErrors or nil.
func (v *Validator) Validate(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

func (v *Validator) registerRules() {
	// question type validation
	v.validate.RegisterValidation("question_type", func(fl validator.FieldLevel) bool {
		return models.IsValidQuestionType(models.QuestionType(fl.Field().String()))
	})

	// difficulty level validation
	v.validate.RegisterValidation("difficulty_level", func(fl validator.FieldLevel) bool {
		level := models.DifficultyLevel(fl.Field().String())
		switch level {
		case models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard:
			return true
		}
		return false
	})

	// randomization mode validation
	v.validate.RegisterValidation("randomization_mode", func(fl validator.FieldLevel) bool {
		mode := models.RandomizationMode(fl.Field().String())
		switch mode {
		case models.RandomizeAll, models.RandomizeByType, models.RandomizeExcludeType, models.RandomizeSpecific:
			return true
		}
		return false
	})

	// violation mode validation
	v.validate.RegisterValidation("violation_mode", func(fl validator.FieldLevel) bool {
		mode := models.ViolationMode(fl.Field().String())
		switch mode {
		case models.ViolationStrict, models.ViolationLenient, models.ViolationDisabled:
			return true
		}
		return false
	})

	// violation type validation
	v.validate.RegisterValidation("violation_type", func(fl validator.FieldLevel) bool {
		vType := models.ViolationType(fl.Field().String())
		switch vType {
		case models.ViolationTabSwitch, models.ViolationFullscreenExit,
			models.ViolationWindowBlur, models.ViolationCopyPaste, models.ViolationDevTools:
			return true
		}
		return false
	})

	// admin action validation
	v.validate.RegisterValidation("admin_action", func(fl validator.FieldLevel) bool {
		return models.IsValidAdminAction(models.AdminActionType(fl.Field().String()))
	})

	// exam duration validation (5 minutes to 8 hours)
	v.validate.RegisterValidation("exam_duration", func(fl validator.FieldLevel) bool {
		duration := fl.Field().Int()
		return duration >= 5 && duration <= 480
	})

	// future date validation for session windows
	v.validate.RegisterValidation("future_date", func(fl validator.FieldLevel) bool {
		field := fl.Field()

		if field.Kind() == reflect.Ptr && field.IsNil() {
			return true
		}

		var value time.Time
		if field.Kind() == reflect.Ptr {
			value = field.Elem().Interface().(time.Time)
		} else {
			value = field.Interface().(time.Time)
		}

		return value.After(time.Now())
	})
}
