package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dmorenov/Gesfactur-api/internal/application/einvoice"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/facturae"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/facturae/signer"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Builder   *facturae.BuilderService
	Signer    *signer.Service
	EInvoice  *einvoice.Service
	JWTSecret string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	handler := NewEInvoiceHandler(deps.Builder, deps.Signer, deps.EInvoice)

	// Validación de documentos sueltos
	protected.Post("/einvoice/validate", handler.Validate)

	// Ciclo de facturación electrónica por factura
	einv := protected.Group("/invoices/:id/einvoice")
	einv.Post("/generate", handler.Generate)
	einv.Post("/sign", handler.Sign)
	einv.Get("/status", handler.Status)
	einv.Get("/eligibility", handler.Eligibility)
	einv.Get("/history", handler.History)

	// Presentar y anular mueven estado ante la administración: solo admin/gestor.
	einv.Post("/submit", RequireRole("admin", "gestor"), handler.Submit)
	einv.Post("/cancel", RequireRole("admin", "gestor"), handler.Cancel)
}
