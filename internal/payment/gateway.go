package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-backend/internal/config"
	"github.com/spec-kit/membership-backend/internal/domain"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

// Gateway creates remote orders with the payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (domain.GatewayOrder, error)
}

type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayGateway calls the Razorpay Orders API through a circuit breaker.
type RazorpayGateway struct {
	orders  orderCreator
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewRazorpayGateway builds a client from the payment configuration.
func NewRazorpayGateway(cfg config.PaymentConfig, logger *zap.Logger) *RazorpayGateway {
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	if secs := int16(cfg.GatewayTimeout / time.Second); secs > 0 {
		client.Order.Request.SetTimeout(secs)
	}
	return newRazorpayGateway(client.Order, cfg, logger)
}

func newRazorpayGateway(orders orderCreator, cfg config.PaymentConfig, logger *zap.Logger) *RazorpayGateway {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        "razorpay",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &RazorpayGateway{orders: orders, breaker: gobreaker.NewCircuitBreaker(settings), logger: logger}
}

// CreateOrder requests a gateway order. Any failure, including an open breaker, is a GatewayError.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (domain.GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return domain.GatewayOrder{}, apperrors.NewGatewayError(err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.orders.Create(map[string]interface{}{
			"amount":   amountMinor,
			"currency": currency,
			"receipt":  receipt,
		}, nil)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.logger.Warn("payment gateway short-circuited", zap.String("receipt", receipt))
		} else {
			g.logger.Error("payment gateway order creation failed", zap.String("receipt", receipt), zap.Error(err))
		}
		return domain.GatewayOrder{}, apperrors.NewGatewayError(err)
	}

	body, _ := result.(map[string]interface{})
	order, err := parseOrder(body)
	if err != nil {
		return domain.GatewayOrder{}, apperrors.NewGatewayError(err)
	}
	return order, nil
}

func parseOrder(body map[string]interface{}) (domain.GatewayOrder, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return domain.GatewayOrder{}, errors.New("gateway response missing order id")
	}
	order := domain.GatewayOrder{ID: id}
	order.Currency, _ = body["currency"].(string)
	order.Receipt, _ = body["receipt"].(string)

	switch amount := body["amount"].(type) {
	case float64:
		order.AmountMinor = int64(amount)
	case int64:
		order.AmountMinor = amount
	case int:
		order.AmountMinor = int64(amount)
	default:
		return domain.GatewayOrder{}, fmt.Errorf("gateway response has unexpected amount %v", body["amount"])
	}
	return order, nil
}
