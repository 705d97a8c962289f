package utils

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Taxonomie des erreurs métier. Chaque type est associé à un statut HTTP
// par le gestionnaire d'erreurs Fiber ci-dessous ; les messages sont
// affichés tels quels à l'utilisateur.

// UserInputError signale une entrée corrigeable par l'appelant.
type UserInputError struct {
	Message string
}

func (e *UserInputError) Error() string { return e.Message }

func NewUserInputError(format string, args ...any) *UserInputError {
	return &UserInputError{Message: fmt.Sprintf(format, args...)}
}

// ForbiddenError signale un défaut d'autorisation.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }

func NewForbiddenError(format string, args ...any) *ForbiddenError {
	return &ForbiddenError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError signale une entité absente ou supprimée.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func NewNotFoundError(format string, args ...any) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrLockTimeout est renvoyée quand un verrou n'a pas pu être acquis dans
// le délai imparti. L'opération peut être retentée.
var ErrLockTimeout = errors.New("Trop d'opérations concurrentes, veuillez réessayer")

// ErrorHandler traduit la taxonomie en réponses JSON Fiber.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var (
		userInput *UserInputError
		forbidden *ForbiddenError
		notFound  *NotFoundError
	)

	switch {
	case errors.As(err, &userInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": userInput.Message})
	case errors.As(err, &forbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": forbidden.Message})
	case errors.As(err, &notFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": notFound.Message})
	case errors.Is(err, ErrLockTimeout):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": ErrLockTimeout.Error()})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Erreur interne du serveur"})
}
