package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/novamart/novamart-backend/api/controllers"
	webhookcontrollers "github.com/novamart/novamart-backend/api/controllers/webhooks"
	"github.com/novamart/novamart-backend/api/middleware"
	checkoutsvc "github.com/novamart/novamart-backend/internal/checkout"
	"github.com/novamart/novamart-backend/internal/orders"
	"github.com/novamart/novamart-backend/internal/payments"
	"github.com/novamart/novamart-backend/internal/webhooks"
	"github.com/novamart/novamart-backend/pkg/config"
	"github.com/novamart/novamart-backend/pkg/db"
	"github.com/novamart/novamart-backend/pkg/logger"
	redispkg "github.com/novamart/novamart-backend/pkg/redis"
	"github.com/novamart/novamart-backend/pkg/shipping"
)

type RouterParams struct {
	Config          *config.Config
	Logger          *logger.Logger
	DB              db.Pinger
	Redis           redispkg.Pinger
	Checkout        checkoutsvc.Service
	Payments        payments.Service
	Orders          orders.Service
	OrdersRepo      orders.Repository
	Shipping        *shipping.Client
	GatewayWebhook  *webhooks.GatewayHandler
	ShippingWebhook *webhooks.ShippingHandler
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payment", webhookcontrollers.GatewayWebhook(p.GatewayWebhook, logg))
		r.Post("/shipping", webhookcontrollers.ShippingWebhook(p.ShippingWebhook, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/checkout/sessions", func(r chi.Router) {
			r.Post("/", controllers.CheckoutCreate(p.Checkout, logg))
			r.Get("/{sessionId}", controllers.CheckoutGet(p.Checkout, logg))
			r.Post("/{sessionId}/cancel", controllers.CheckoutCancel(p.Checkout, logg))
			r.Post("/{sessionId}/payment", controllers.PaymentInitiate(p.Payments, p.Checkout, logg))
		})

		r.Post("/payments/verify", controllers.PaymentVerify(p.Payments, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrdersList(p.Orders, logg))
			r.Get("/{orderId}", controllers.OrderGet(p.Orders, logg))
			r.Post("/{orderId}/cancel", controllers.OrderCancel(p.Orders, logg))
			r.Get("/{orderId}/tracking", controllers.OrderTrack(p.Orders, logg))
			r.Post("/{orderId}/return", controllers.OrderReturn(p.Orders, logg))
			r.Put("/{orderId}/address", controllers.OrderUpdateAddress(p.Orders, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole("admin", logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/{orderId}/approve", controllers.OrderApprove(p.Orders, logg))
			r.Get("/{orderId}/invoice", controllers.OrderInvoice(p.OrdersRepo, p.Shipping, logg))
		})
		r.Get("/pickup-locations", controllers.PickupLocations(p.Shipping, logg))
		r.Post("/pickup-locations", controllers.PickupLocationCreate(p.Shipping, logg))
	})

	return r
}
