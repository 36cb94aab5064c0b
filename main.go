package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ms-eventchain/internal/analytics"
	"ms-eventchain/internal/analytics/analytics_api"
	"ms-eventchain/internal/announcements"
	"ms-eventchain/internal/announcements/announcement_api"
	anndb "ms-eventchain/internal/announcements/db"
	"ms-eventchain/internal/applications"
	"ms-eventchain/internal/applications/application_api"
	appdb "ms-eventchain/internal/applications/db"
	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/bootstrap"
	"ms-eventchain/internal/certificates"
	"ms-eventchain/internal/certificates/certificate_api"
	certdb "ms-eventchain/internal/certificates/db"
	"ms-eventchain/internal/certificates/template"
	"ms-eventchain/internal/checkin"
	"ms-eventchain/internal/checkin/checkin_api"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/config"
	"ms-eventchain/internal/events"
	eventdb "ms-eventchain/internal/events/db"
	"ms-eventchain/internal/events/event_api"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/lottery"
	lotterydb "ms-eventchain/internal/lottery/db"
	"ms-eventchain/internal/lottery/lottery_api"
	"ms-eventchain/internal/monitoring"
	"ms-eventchain/internal/notify"
	"ms-eventchain/internal/payment"
	handlers "ms-eventchain/internal/payment/handler"
	"ms-eventchain/internal/payment/services"
	"ms-eventchain/internal/payment/storage"
	"ms-eventchain/internal/sse"
	"ms-eventchain/internal/tickets"
	ticketdb "ms-eventchain/internal/tickets/db"
	qr "ms-eventchain/internal/tickets/qr_genrator"
	"ms-eventchain/internal/tickets/ticket_api"
	"ms-eventchain/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting EventChain API initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()
	if err := cfg.Certificates.Validate(); err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Certificate font unavailable, set CERT_FONT_PATH to a .ttf file: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("APP", fmt.Sprintf("Startup failed: %v", err))
	}
	defer infra.Close()

	clk := clock.NewSystem()

	hub := sse.NewHub()
	relay := sse.NewRedisRelay(infra.Redis, "", hub, log)
	go func() {
		if err := relay.Run(ctx, nil); err != nil {
			log.Error("REALTIME", fmt.Sprintf("Relay stopped: %v", err))
		}
	}()

	analyticsService := analytics.NewService(analytics.NewDB(infra.DB), nil, relay, clk, log)
	var publisher notify.Publisher = infra.Publishers()
	if !cfg.Kafka.Enabled {
		// Without Kafka the worker cannot observe transitions, so refresh inline.
		publisher = infra.Publishers(analyticsService)
	}

	eventService := events.NewService(&eventdb.DB{Bun: infra.DB}, clk, publisher, log)
	analyticsService.Events = eventService
	applicationService := applications.NewService(&appdb.DB{Bun: infra.DB}, eventService, clk, publisher, log)
	lotteryService := lottery.NewService(&lotterydb.DB{Bun: infra.DB}, eventService, lottery.UniformPolicy{}, clk, publisher, log)

	qrGenerator, err := qr.NewQRGenerator(cfg.QRSecret)
	if err != nil {
		log.Fatal("APP", fmt.Sprintf("QR generator: %v", err))
	}
	ticketStore := &ticketdb.DB{Bun: infra.DB}
	chain := bootstrap.NewChain(cfg, infra.Redis, log)
	ticketService := tickets.NewTicketService(ticketStore, qrGenerator, clk, log)
	checkinService := checkin.NewService(ticketStore, qrGenerator, chain, clk, publisher, relay, log)
	certificateService := certificates.NewService(
		&certdb.DB{Bun: infra.DB},
		ticketStore,
		eventService,
		template.NewCertificatePDFGenerator(cfg.Certificates.FontPath, cfg.Certificates.IssuerName),
		chain,
		cfg.Certificates.VerifyBaseURL,
		clk, publisher, log,
	)

	announcementService := announcements.NewService(&anndb.DB{Bun: infra.DB}, eventService, clk, publisher, relay, log)

	verifier, err := auth.NewVerifier(ctx, cfg.Auth.JWTSecret, cfg.Auth.OIDCIssuer, log)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("Token verifier: %v", err))
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(monitoring.RequestLogger(log))

	r.Get("/healthz", healthz(infra))
	if cfg.Metrics {
		r.Handle("/metrics", monitoring.Handler())
	}

	certificateHandler := &certificate_api.Handler{Certificates: certificateService, Logger: log}
	r.Route("/api/certificates/verify", certificateHandler.RegisterPublicRoutes)
	announcementHandler := &announcement_api.Handler{Announcements: announcementService, Logger: log}
	r.Route("/api/announcements/public", announcementHandler.RegisterPublicRoutes)

	r.Route("/api/realtime", func(r chi.Router) {
		r.Use(verifier.StreamMiddleware())
		sse.NewHandler(hub, analyticsService, log).RegisterRoutes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(verifier.Middleware())
		log.Info("AUTH", "JWT middleware applied to protected API routes")

		r.Route("/api/events", func(r chi.Router) {
			(&event_api.Handler{EventService: eventService, Logger: log}).RegisterRoutes(r)
			(&lottery_api.Handler{LotteryService: lotteryService, Logger: log}).RegisterRoutes(r)
			analytics_api.NewHandler(analyticsService, log).RegisterEventRoutes(r)
		})
		r.Route("/api/analytics", analytics_api.NewHandler(analyticsService, log).RegisterRoutes)
		r.Route("/api/applications", (&application_api.Handler{ApplicationService: applicationService, Logger: log}).RegisterRoutes)

		ticketHandler := ticket_api.NewHandler(ticketService, log)
		r.Route("/api/tickets", ticketHandler.RegisterRoutes)
		r.Route("/api/admin", ticketHandler.RegisterAdminRoutes)

		r.Route("/api/checkin", (&checkin_api.Handler{CheckIn: checkinService, Logger: log}).RegisterRoutes)
		r.Route("/api/certificates", certificateHandler.RegisterRoutes)
		r.Route("/api/announcements", announcementHandler.RegisterRoutes)
	})
	log.Info("ROUTER", "API routes registered")

	if stripeService, err := services.NewStripeService(cfg.Stripe, log); err != nil {
		log.Warn("PAYMENT", fmt.Sprintf("Payments disabled: %v", err))
	} else {
		paymentService := payment.NewService(
			&storage.BunStore{Bun: infra.DB},
			stripeService,
			applicationService,
			eventService,
			cfg.Stripe.Currency,
			cfg.Stripe.SuccessURL,
			clk, publisher, log,
		)
		gin.SetMode(gin.ReleaseMode)
		engine := gin.New()
		engine.Use(gin.Recovery())
		handlers.NewStripeHandler(paymentService, stripeService, log).RegisterRoutes(engine, verifier.GinMiddleware())
		r.Mount("/api/payments", engine)
		r.Mount("/api/stripe", engine)
		log.Info("ROUTER", "Payment routes registered under /api/payments and /api/stripe")
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("EventChain API running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "EventChain API shutdown complete")
	}
}

func healthz(infra *bootstrap.Infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok", "redis": "ok"}
		status := http.StatusOK
		if err := infra.DB.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := infra.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		utils.WriteJSON(w, status, checks)
	}
}
