package handlers

import (
	"context"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/membership-backend/internal/attachment"
	"github.com/spec-kit/membership-backend/internal/auth"
	"github.com/spec-kit/membership-backend/internal/domain"
	"github.com/spec-kit/membership-backend/internal/service"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

// TicketWorkflow is the ticket service surface used by the HTTP layer.
type TicketWorkflow interface {
	CreateTicket(ctx context.Context, ownerID string, input service.CreateTicketInput, files []attachment.File) (*domain.Ticket, error)
	GetTicket(ctx context.Context, ticketID string, actor domain.Principal) (*domain.Ticket, error)
	Respond(ctx context.Context, ticketID string, actor domain.Principal, message string, files []attachment.File) (*domain.Ticket, error)
	SetStatus(ctx context.Context, ticketID string, actor domain.Principal, status domain.TicketStatus) (*domain.Ticket, error)
	Assign(ctx context.Context, ticketID string, actor domain.Principal, agentID string) (*domain.Ticket, error)
	SetPriority(ctx context.Context, ticketID string, actor domain.Principal, priority domain.TicketPriority) (*domain.Ticket, error)
	Rate(ctx context.Context, ticketID, ownerID string, rating int) (*domain.Ticket, error)
	DeleteTicket(ctx context.Context, ticketID string, actor domain.Principal) error
	List(ctx context.Context, filter service.TicketFilter, page, pageSize int) (*service.TicketPage, error)
	Stats(ctx context.Context) (*domain.TicketStats, error)
}

// PaymentWorkflow is the order service surface used by the HTTP layer.
type PaymentWorkflow interface {
	InitiatePurchase(ctx context.Context, userID, courseID string) (*service.PurchaseInitiation, error)
	VerifyPurchasePayment(ctx context.Context, userID string, confirmation domain.PaymentConfirmation) (*domain.CoursePurchase, error)
	ListCompletedPurchases(ctx context.Context, userID string) ([]domain.CoursePurchase, error)
	HasCourseAccess(ctx context.Context, userID, courseID string) (bool, error)
	CreateOrder(ctx context.Context, userID string, input service.CreateOrderInput) (*service.OrderInitiation, error)
	VerifyOrderPayment(ctx context.Context, userID string, confirmation domain.PaymentConfirmation) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string, actor domain.Principal) (*domain.Order, error)
	ListOrdersForUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Order, error)
	ListAllOrders(ctx context.Context, page, pageSize int) (*service.OrderPage, error)
	UpdateFulfillmentStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error)
}

func principal(c *fiber.Ctx) (domain.Principal, error) {
	p, ok := auth.PrincipalFromContext(c)
	if !ok || p.ID == "" {
		return domain.Principal{}, apperrors.NewUnauthorized("authentication required")
	}
	return p, nil
}

func parseIntQuery(c *fiber.Ctx, key string, defaultVal int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return val
}

// uploadedFiles reads the attachments of a multipart request. Non-multipart requests carry
// no files.
func uploadedFiles(c *fiber.Ctx) ([]attachment.File, error) {
	if !strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperrors.NewValidationError("invalid multipart payload", nil)
	}
	headers := append(form.File["attachments"], form.File["attachments[]"]...)
	files := make([]attachment.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readFormFile(fh)
		if err != nil {
			return nil, apperrors.NewInvalidFile("unreadable upload", map[string]any{"filename": fh.Filename})
		}
		files = append(files, attachment.File{
			Name:     fh.Filename,
			MimeType: fh.Header.Get(fiber.HeaderContentType),
			Size:     fh.Size,
			Data:     data,
		})
	}
	return files, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
