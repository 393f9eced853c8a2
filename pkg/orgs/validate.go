package orgs

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/orgkit/pkg/rbac"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	return v
}

// RegisterUserInput is the input of Service.RegisterUser.
type RegisterUserInput struct {
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"required,email,max=255"`
}

// CreateOrganizationInput is the input of Service.CreateOrganization. An
// empty slug is generated from the name.
type CreateOrganizationInput struct {
	Name string `json:"name" validate:"required,max=255"`
	Slug string `json:"slug" validate:"omitempty,max=255,slug"`
}

// UpdateOrganizationInput changes the fields that are set.
type UpdateOrganizationInput struct {
	Name *string `json:"name" validate:"omitnil,min=1,max=255"`
	Slug *string `json:"slug" validate:"omitnil,min=1,max=255,slug"`
}

// InviteInput is the input of Service.Invite.
type InviteInput struct {
	Email string    `json:"email" validate:"required,email,max=255"`
	Role  rbac.Role `json:"role" validate:"required"`
}

// validateInput checks input against its struct tags and reports the first
// failing field as a ValidationError.
func validateInput(input interface{}) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("failed to validate input: %w", err)
	}
	fe := fieldErrs[0]
	return newValidationError(fe.Field(), CodeInvalidInput, fieldMessage(fe))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", field)
	case "email":
		return fmt.Sprintf("The %s field must be a valid email address.", field)
	case "min":
		return fmt.Sprintf("The %s field must be at least %s characters.", field, fe.Param())
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s characters.", field, fe.Param())
	case "slug":
		return fmt.Sprintf("The %s field may only contain lowercase letters, numbers, and dashes.", field)
	default:
		return fmt.Sprintf("The %s field is invalid.", field)
	}
}
