package main

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"ctrader_gateway/internal/handlers"
	"ctrader_gateway/internal/middleware"
)

func (app *App) setupRouter(deps *handlers.Dependencies) {
	gateway := handlers.NewGatewayHandler(deps)
	market := handlers.NewMarketHandler(deps)
	status := handlers.NewStatusHandler(deps)
	analytics := handlers.NewAnalyticsHandler(deps)
	credentials := handlers.NewCredentialHandler(deps)

	r := chi.NewRouter()

	// Chi middleware (aliased as chimw to avoid conflict with our middleware package)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(middleware.Tracing)
	r.Use(middleware.SecurityHeaders)
	r.Use(app.limiter.Limit)

	r.Get("/", status.Root)
	r.Get("/health", status.Health)
	r.Get("/pool/stats", status.Stats)
	r.Get("/accounts/summary", status.AccountsSummary)

	// Reads
	r.Get("/account/{account_id}", gateway.Account)
	r.Get("/positions/{account_id}", gateway.Positions)
	r.Get("/orders/{account_id}", gateway.Orders)
	r.Get("/prices", market.Prices)
	r.Get("/prices/{symbol}", market.Price)
	r.Get("/symbols/mapping/{symbol}", market.SymbolMapping)
	r.Get("/symbols/{symbol}", market.SymbolInfo)
	r.Get("/accounts/{account_id}/symbols", market.AccountSymbols)
	r.Get("/accounts/{account_id}/metrics", analytics.Metrics)
	r.Get("/accounts/{account_id}/trades", analytics.Trades)
	r.Get("/accounts/{account_id}/journal", analytics.Journal)
	r.Get("/accounts/{account_id}/daily-growth", analytics.DailyGrowth)
	r.Get("/accounts/{account_id}/risk-status", analytics.RiskStatus)

	// Mutating routes require the API key when one is configured
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(app.config.APIKey))

		r.Post("/trade/execute", gateway.ExecuteTrade)
		r.Post("/position/modify", gateway.ModifyPosition)
		r.Post("/position/close", gateway.ClosePosition)
		r.Post("/streaming/initialize", market.InitializeStreaming)
		r.Post("/streaming/subscribe", market.Subscribe)
		r.Put("/accounts/{account_id}/credentials", credentials.Store)
		r.Delete("/accounts/{account_id}/credentials", credentials.Delete)
	})

	app.router = r
}
