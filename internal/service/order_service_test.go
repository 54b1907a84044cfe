package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/membership-backend/internal/domain"
	"github.com/spec-kit/membership-backend/internal/events"
	"github.com/spec-kit/membership-backend/internal/payment"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

const testKeySecret = "rzp_test_secret"

type orderFixture struct {
	svc        *OrderService
	purchases  *fakePurchaseRepo
	courses    *fakeCourses
	orders     *fakeOrderRepo
	gateway    *fakeGateway
	signer     *payment.Signer
	dispatcher *recordingDispatcher
}

func newOrderFixture() *orderFixture {
	f := &orderFixture{
		purchases:  newFakePurchaseRepo(),
		courses:    &fakeCourses{prices: map[string]int64{"course-go": 49999, "course-draft": 0}},
		orders:     newFakeOrderRepo(),
		gateway:    &fakeGateway{},
		signer:     payment.NewSigner(testKeySecret),
		dispatcher: &recordingDispatcher{},
	}
	f.svc = NewOrderService(OrderDependencies{
		PurchaseRepo: f.purchases,
		Courses:      f.courses,
		OrderRepo:    f.orders,
		Gateway:      f.gateway,
		Verifier:     f.signer,
		Dispatcher:   f.dispatcher,
		Clock:        newFakeClock().Now,
	})
	return f
}

func (f *orderFixture) confirm(orderID, paymentID string) domain.PaymentConfirmation {
	return domain.PaymentConfirmation{
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
		Signature:        f.signer.Sign(orderID, paymentID),
	}
}

func TestPurchaseLifecycle(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()

	started, err := f.svc.InitiatePurchase(ctx, owner.ID, "course-go")
	require.NoError(t, err)
	assert.EqualValues(t, 49999, started.Purchase.AmountMinor)
	assert.EqualValues(t, 49999, started.GatewayOrder.AmountMinor)
	assert.Equal(t, "499.99", started.Amount.String())
	assert.Equal(t, "INR", started.GatewayOrder.Currency)
	assert.LessOrEqual(t, len(started.GatewayOrder.Receipt), 40)
	assert.Equal(t, domain.PurchaseStatusPending, started.Purchase.Status)

	access, err := f.svc.HasCourseAccess(ctx, owner.ID, "course-go")
	require.NoError(t, err)
	assert.False(t, access)

	purchase, err := f.svc.VerifyPurchasePayment(ctx, owner.ID, f.confirm(started.GatewayOrder.ID, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusCompleted, purchase.Status)
	require.NotNil(t, purchase.PurchasedAt)
	require.NotNil(t, purchase.GatewayPaymentID)
	assert.Equal(t, "pay_1", *purchase.GatewayPaymentID)

	access, err = f.svc.HasCourseAccess(ctx, owner.ID, "course-go")
	require.NoError(t, err)
	assert.True(t, access)

	completed, err := f.svc.ListCompletedPurchases(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	_, err = f.svc.InitiatePurchase(ctx, owner.ID, "course-go")
	assert.Equal(t, apperrors.CodeAlreadyPurchased, apperrors.CodeOf(err))
	assert.Equal(t, 1, f.gateway.calls)

	assert.Equal(t, []events.EventType{events.EventPaymentCompleted}, f.dispatcher.types())
}

func TestInitiatePurchaseValidation(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()

	_, err := f.svc.InitiatePurchase(ctx, owner.ID, " ")
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	_, err = f.svc.InitiatePurchase(ctx, owner.ID, "course-unknown")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	_, err = f.svc.InitiatePurchase(ctx, owner.ID, "course-draft")
	assert.Equal(t, apperrors.CodeInvalidState, apperrors.CodeOf(err))
	assert.Zero(t, f.gateway.calls)
}

func TestInitiatePurchaseChargesCatalogPrice(t *testing.T) {
	f := newOrderFixture()
	f.courses.prices["course-go"] = 120050

	started, err := f.svc.InitiatePurchase(context.Background(), owner.ID, "course-go")
	require.NoError(t, err)
	assert.EqualValues(t, 120050, started.Purchase.AmountMinor)
	assert.Equal(t, "1200.5", started.Amount.String())

	f.courses.err = errBoom
	_, err = f.svc.InitiatePurchase(context.Background(), stranger.ID, "course-go")
	assert.Equal(t, apperrors.CodeInternal, apperrors.CodeOf(err))
}

func TestGatewayAmountMismatchLeavesNoRow(t *testing.T) {
	f := newOrderFixture()
	f.gateway.amountMinor = 1

	_, err := f.svc.InitiatePurchase(context.Background(), owner.ID, "course-go")
	assert.Equal(t, apperrors.CodeGateway, apperrors.CodeOf(err))
	assert.Empty(t, f.purchases.purchases)

	_, err = f.svc.CreateOrder(context.Background(), owner.ID, CreateOrderInput{
		Items: []OrderItemInput{{ProductID: "p1", Name: "Ebook", Price: decimal.NewFromInt(5), Quantity: 1, IsDigital: true}},
	})
	assert.Equal(t, apperrors.CodeGateway, apperrors.CodeOf(err))
	assert.Empty(t, f.orders.orders)
}

func TestInitiatePurchaseGatewayFailureLeavesNoRow(t *testing.T) {
	f := newOrderFixture()
	f.gateway.err = apperrors.NewGatewayError(errBoom)

	_, err := f.svc.InitiatePurchase(context.Background(), owner.ID, "course-go")
	assert.Equal(t, apperrors.CodeGateway, apperrors.CodeOf(err))
	assert.Empty(t, f.purchases.purchases)

	_, err = f.svc.CreateOrder(context.Background(), owner.ID, CreateOrderInput{
		Items: []OrderItemInput{{ProductID: "p1", Name: "Ebook", Price: decimal.NewFromInt(5), Quantity: 1, IsDigital: true}},
	})
	assert.Equal(t, apperrors.CodeGateway, apperrors.CodeOf(err))
	assert.Empty(t, f.orders.orders)
}

func TestConcurrentVerifyFinalizesOnce(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	started, err := f.svc.InitiatePurchase(ctx, owner.ID, "course-go")
	require.NoError(t, err)
	confirmation := f.confirm(started.GatewayOrder.ID, "pay_1")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.VerifyPurchasePayment(ctx, owner.ID, confirmation)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, finalized int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperrors.IsCode(err, apperrors.CodeAlreadyFinalized):
			finalized++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, finalized)
	assert.Equal(t, []events.EventType{events.EventPaymentCompleted}, f.dispatcher.types())
}

func TestVerifySignatureMismatchFailsPurchase(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	started, err := f.svc.InitiatePurchase(ctx, owner.ID, "course-go")
	require.NoError(t, err)

	bad := domain.PaymentConfirmation{GatewayOrderID: started.GatewayOrder.ID, GatewayPaymentID: "pay_1", Signature: "deadbeef"}
	_, err = f.svc.VerifyPurchasePayment(ctx, owner.ID, bad)
	assert.Equal(t, apperrors.CodeSignatureInvalid, apperrors.CodeOf(err))
	assert.Equal(t, domain.PurchaseStatusFailed, f.purchases.get(started.GatewayOrder.ID).Status)

	_, err = f.svc.VerifyPurchasePayment(ctx, owner.ID, f.confirm(started.GatewayOrder.ID, "pay_1"))
	assert.Equal(t, apperrors.CodeAlreadyFinalized, apperrors.CodeOf(err))
	assert.Equal(t, []events.EventType{events.EventPaymentFailed}, f.dispatcher.types())
}

func TestVerifyMismatchDoesNotFlipCompletedPurchase(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	started, err := f.svc.InitiatePurchase(ctx, owner.ID, "course-go")
	require.NoError(t, err)
	_, err = f.svc.VerifyPurchasePayment(ctx, owner.ID, f.confirm(started.GatewayOrder.ID, "pay_1"))
	require.NoError(t, err)

	bad := domain.PaymentConfirmation{GatewayOrderID: started.GatewayOrder.ID, GatewayPaymentID: "pay_2", Signature: "00"}
	_, err = f.svc.VerifyPurchasePayment(ctx, owner.ID, bad)
	assert.Equal(t, apperrors.CodeSignatureInvalid, apperrors.CodeOf(err))
	assert.Equal(t, domain.PurchaseStatusCompleted, f.purchases.get(started.GatewayOrder.ID).Status)
}

func TestVerifyPurchaseScopedToUser(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	started, err := f.svc.InitiatePurchase(ctx, owner.ID, "course-go")
	require.NoError(t, err)

	_, err = f.svc.VerifyPurchasePayment(ctx, stranger.ID, f.confirm(started.GatewayOrder.ID, "pay_1"))
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))

	_, err = f.svc.VerifyPurchasePayment(ctx, owner.ID, domain.PaymentConfirmation{GatewayOrderID: started.GatewayOrder.ID})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestSecondPendingPurchaseOfOwnedCourse(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	first, err := f.svc.InitiatePurchase(ctx, owner.ID, "course-go")
	require.NoError(t, err)
	second, err := f.svc.InitiatePurchase(ctx, owner.ID, "course-go")
	require.NoError(t, err)

	_, err = f.svc.VerifyPurchasePayment(ctx, owner.ID, f.confirm(first.GatewayOrder.ID, "pay_1"))
	require.NoError(t, err)
	_, err = f.svc.VerifyPurchasePayment(ctx, owner.ID, f.confirm(second.GatewayOrder.ID, "pay_2"))
	assert.Equal(t, apperrors.CodeAlreadyPurchased, apperrors.CodeOf(err))
}

func TestOrderPaymentByKind(t *testing.T) {
	ebook := domain.DigitalEbook
	digital := []OrderItemInput{
		{ProductID: "ebook-1", Name: "Go Patterns", Price: decimal.RequireFromString("12.50"), Quantity: 2, IsDigital: true, DigitalContentType: &ebook},
	}
	physical := []OrderItemInput{
		digital[0],
		{ProductID: "mug-1", Name: "Mug", Price: decimal.RequireFromString("7.25"), Quantity: 1},
	}
	shipping := &domain.ShippingInfo{Address: "1 Main St", City: "Pune", State: "MH", Country: "IN", PinCode: "411001", Phone: "9999999999"}

	cases := []struct {
		name     string
		items    []OrderItemInput
		shipping *domain.ShippingInfo
		total    int64
		status   domain.OrderStatus
	}{
		{"digital order is delivered", digital, nil, 2500, domain.OrderStatusDelivered},
		{"physical order is paid", physical, shipping, 3225, domain.OrderStatusPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrderFixture()
			ctx := context.Background()
			started, err := f.svc.CreateOrder(ctx, owner.ID, CreateOrderInput{Items: tc.items, ShippingInfo: tc.shipping})
			require.NoError(t, err)
			assert.Equal(t, tc.total, started.Order.TotalAmountMinor)
			assert.Equal(t, tc.total, started.GatewayOrder.AmountMinor)
			assert.True(t, payment.FromMinorUnits(tc.total).Equal(started.Amount))
			assert.Equal(t, domain.OrderStatusPending, started.Order.Status)

			order, err := f.svc.VerifyOrderPayment(ctx, owner.ID, f.confirm(started.GatewayOrder.ID, "pay_9"))
			require.NoError(t, err)
			assert.Equal(t, tc.status, order.Status)
			assert.Equal(t, domain.TransactionSuccess, order.Transaction.Status)

			_, err = f.svc.VerifyOrderPayment(ctx, owner.ID, f.confirm(started.GatewayOrder.ID, "pay_9"))
			assert.Equal(t, apperrors.CodeAlreadyFinalized, apperrors.CodeOf(err))
		})
	}
}

func TestCreateOrderValidation(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, owner.ID, CreateOrderInput{})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = f.svc.CreateOrder(ctx, owner.ID, CreateOrderInput{
		Items: []OrderItemInput{{ProductID: "mug-1", Name: "Mug", Price: decimal.NewFromInt(7), Quantity: 1}},
	})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = f.svc.CreateOrder(ctx, owner.ID, CreateOrderInput{
		Items: []OrderItemInput{{ProductID: "ebook-1", Name: "Ebook", Price: decimal.NewFromInt(7), Quantity: 0, IsDigital: true}},
	})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = f.svc.CreateOrder(ctx, owner.ID, CreateOrderInput{
		Items: []OrderItemInput{{ProductID: "ebook-1", Name: "Ebook", Price: decimal.NewFromInt(-1), Quantity: 1, IsDigital: true}},
	})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	assert.Zero(t, f.gateway.calls)
}

func TestOrderSignatureMismatch(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	started, err := f.svc.CreateOrder(ctx, owner.ID, CreateOrderInput{
		Items: []OrderItemInput{{ProductID: "ebook-1", Name: "Ebook", Price: decimal.NewFromInt(7), Quantity: 1, IsDigital: true}},
	})
	require.NoError(t, err)

	_, err = f.svc.VerifyOrderPayment(ctx, owner.ID, domain.PaymentConfirmation{
		GatewayOrderID: started.GatewayOrder.ID, GatewayPaymentID: "pay_1", Signature: "bad",
	})
	assert.Equal(t, apperrors.CodeSignatureInvalid, apperrors.CodeOf(err))

	order, err := f.svc.GetOrder(ctx, started.Order.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionFailed, order.Transaction.Status)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
}

func TestOrderAccessAndFulfilment(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	started, err := f.svc.CreateOrder(ctx, owner.ID, CreateOrderInput{
		Items:        []OrderItemInput{{ProductID: "mug-1", Name: "Mug", Price: decimal.NewFromInt(7), Quantity: 1}},
		ShippingInfo: &domain.ShippingInfo{Address: "1 Main St", City: "Pune", Country: "IN"},
	})
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, started.Order.ID, stranger)
	assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))
	_, err = f.svc.GetOrder(ctx, started.Order.ID, agent)
	assert.NoError(t, err)
	_, err = f.svc.GetOrder(ctx, "missing", agent)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))

	mine, err := f.svc.ListOrdersForUser(ctx, owner.ID, 1, 10)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := f.svc.ListOrdersForUser(ctx, stranger.ID, 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, theirs)
	assert.Empty(t, theirs)

	all, err := f.svc.ListAllOrders(ctx, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, all.Total)

	order, err := f.svc.UpdateFulfillmentStatus(ctx, started.Order.ID, domain.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, order.Status)

	_, err = f.svc.UpdateFulfillmentStatus(ctx, started.Order.ID, domain.OrderStatusPaid)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	_, err = f.svc.UpdateFulfillmentStatus(ctx, "missing", domain.OrderStatusShipped)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestReceiptForFitsGatewayLimit(t *testing.T) {
	receipt := receiptFor(flavorCourse, "0b6f1e8a-4a36-4f33-9d53-4b0c2f1c9a77")
	assert.Equal(t, "course_0b6f1e8a4a364f339d534b0c2f1c9a77", receipt)
	assert.LessOrEqual(t, len(receiptFor("a-much-longer-flavor-name", "0b6f1e8a-4a36-4f33-9d53-4b0c2f1c9a77")), 40)
}
