package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/dmorenov/Gesfactur-api/internal/application/einvoice"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/face"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/facturae"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/facturae/signer"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/postgres"
	httpRouter "github.com/dmorenov/Gesfactur-api/internal/interfaces/http"
	"github.com/dmorenov/Gesfactur-api/pkg/config"
	"github.com/dmorenov/Gesfactur-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("face_env", cfg.FACE.Environment).
		Msg("iniciando aplicación")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	companyRepo := postgres.NewCompanyRepository(pool)
	clientRepo := postgres.NewClientRepository(pool)
	invoiceRepo := postgres.NewInvoiceRepository(pool)
	certRepo := postgres.NewCertificateRepository(pool)

	// Ciclo FacturaE: generación → firma XAdES-EPES → presentación FACE
	builderSvc := facturae.NewBuilderService(invoiceRepo, clientRepo, companyRepo)
	signerSvc := signer.NewService(certRepo)

	// Cliente SOAP FACE — solo se usa si el entorno es "test" o "prod".
	// En modo "dev" la pasarela simula la presentación.
	var transport face.Transport
	if cfg.FACE.Environment != face.EnvDev {
		transport = face.NewSOAPClient()
	}

	einvoiceSvc := einvoice.NewService(
		invoiceRepo, clientRepo, certRepo,
		builderSvc, signerSvc, transport,
		einvoice.Config{Environment: cfg.FACE.Environment},
		log.WithComponent("einvoice"),
	)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Gesfactur API",
	}))

	httpRouter.Router(app, httpRouter.RouterDeps{
		Builder:   builderSvc,
		Signer:    signerSvc,
		EInvoice:  einvoiceSvc,
		JWTSecret: cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}
