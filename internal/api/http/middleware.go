package http

import (
	"context"
	"errors"
	"math"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-backend/internal/observability"
	"github.com/spec-kit/membership-backend/internal/ratelimit"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger, metrics))
	app.Use(observability.RequestLogger(logger, metrics))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				writeError(c, logger, metrics, err)
				err = nil
			}
		}()
		return c.Next()
	}
}

// ErrorHandler renders errors that escape the middleware chain, e.g. oversized bodies
// rejected before routing.
func ErrorHandler(logger *zap.Logger, metrics *observability.Metrics) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		writeError(c, logger, metrics, err)
		return nil
	}
}

func writeError(c *fiber.Ctx, logger *zap.Logger, metrics *observability.Metrics, err error) {
	domainErr := toDomainError(err)
	metrics.RecordError(c.Path(), c.Method(), domainErr.Code)

	body := fiber.Map{
		"code":    domainErr.Code,
		"message": domainErr.Message,
	}
	if len(domainErr.Details) > 0 {
		body["details"] = domainErr.Details
	}
	if domainErr.Code == apperrors.CodeRateLimited {
		if seconds, ok := domainErr.Details["retry_after_seconds"].(int); ok {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
		}
	}
	if domainErr.HTTPStatus >= 500 {
		logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.String("code", domainErr.Code),
			zap.Error(domainErr))
	}
	c.Status(domainErr.HTTPStatus)
	_ = c.JSON(fiber.Map{"error": body})
}

// toDomainError also maps fiber's own errors, such as unknown routes and oversized bodies.
func toDomainError(err error) *apperrors.DomainError {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			return apperrors.NewDomainError(apperrors.CodeNotFound, "route not found", fiber.StatusNotFound, nil)
		case fiber.StatusMethodNotAllowed:
			return apperrors.NewDomainError(apperrors.CodeNotFound, "method not allowed", fiber.StatusMethodNotAllowed, nil)
		case fiber.StatusRequestEntityTooLarge:
			return apperrors.NewDomainError(apperrors.CodeValidation, "request body too large", fiber.StatusRequestEntityTooLarge, nil)
		}
		if fiberErr.Code >= 400 && fiberErr.Code < 500 {
			return apperrors.NewDomainError(apperrors.CodeValidation, fiberErr.Message, fiberErr.Code, nil)
		}
	}
	return apperrors.ToDomainError(err)
}

// RateLimit rejects clients that exceed policy within its window, keyed by client IP. When
// the limiter backend fails the request is let through.
func RateLimit(policy ratelimit.Policy, metrics *observability.Metrics, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		decision, err := policy.Check(c.UserContext(), c.IP())
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request",
				zap.String("policy", policy.Name),
				zap.Error(err))
			return c.Next()
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(policy.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			metrics.RecordRateLimited(policy.Name)
			retryAfter := int(math.Ceil(decision.RetryAfter(time.Now()).Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			return apperrors.NewRateLimited("too many requests, please try again later", retryAfter)
		}
		return c.Next()
	}
}
