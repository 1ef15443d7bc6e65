package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/novaforge/bazaar/internal/api"
	"github.com/novaforge/bazaar/internal/auth"
	"github.com/novaforge/bazaar/internal/config"
	"github.com/novaforge/bazaar/internal/db"
	"github.com/novaforge/bazaar/internal/kv"
	"github.com/novaforge/bazaar/internal/ledger"
	"github.com/novaforge/bazaar/internal/logger"
	"github.com/novaforge/bazaar/internal/market"
	"github.com/novaforge/bazaar/internal/models"
	"github.com/novaforge/bazaar/internal/notify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// wsHub pushes listing change events to every connected client.
type wsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	log     *logrus.Entry
}

func newWSHub(log *logrus.Entry) *wsHub {
	return &wsHub{clients: make(map[*wsClient]bool), log: log}
}

func (h *wsHub) broadcast(ev market.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).Warn("failed to marshal event")
		return
	}

	h.mu.RLock()
	stale := []*wsClient{}
	for client := range h.clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	if len(stale) > 0 {
		h.mu.Lock()
		for _, client := range stale {
			delete(h.clients, client)
		}
		h.mu.Unlock()
	}
}

func (h *wsHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("failed to upgrade connection")
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			break
		}
	}
}

// Every fresh account service starts with a demo inventory and balance;
// real game state would hydrate these from the account's empire.
const starterBalance = 1000

func starterItems() []models.Item {
	names := []string{"Plasma Lance", "Void Compass", "Relic Hull Plate"}
	items := make([]models.Item, 0, len(names))
	for i, name := range names {
		items = append(items, models.Item{UUID: uuid.New(), Name: name, Grade: i + 1})
	}
	return items
}

// Main entry point: sets up the stores, per-account marketplace
// services and HTTP server
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, OutputFile: cfg.LogFile})
	entry := log.WithField("component", "server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		entry.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close(ctx)

	// The three keyspaces of the transaction engine. All must answer or
	// the engine refuses to come up.
	listingKV := kv.NewPGStore(database.Pool, "kv_listings")
	indexKV := kv.NewPGStore(database.Pool, "kv_index")
	historyKV := kv.NewPGStore(database.Pool, "kv_history")
	for _, store := range []kv.Store{listingKV, indexKV, historyKV} {
		if err := store.Ping(ctx); err != nil {
			entry.WithError(err).Fatal("keyspace unavailable")
		}
	}

	listings := market.NewListingStore(listingKV)
	history := market.NewHistoryStore(historyKV)

	authService := auth.NewAuthService(database, cfg.JWTSecret)
	webhook := notify.NewWebhook(cfg.WebhookURL, log.WithField("component", "webhook"))
	hub := newWSHub(log.WithField("component", "ws"))

	registry := market.NewRegistry(func(accountID int64) *market.Service {
		return market.NewService(listings, history, indexKV, market.Config{
			Account:         accountID,
			MinPrice:        cfg.MinPrice,
			MaxPrice:        cfg.MaxPrice,
			LockTimeout:     cfg.LockTimeout,
			ListingDuration: cfg.ListingDuration,
			Inventory:       ledger.NewInventory(starterItems()...),
			Wallet:          ledger.NewWallet(starterBalance),
			Perms:           authService,
			Notifier:        webhook,
			OnChange:        hub.broadcast,
		}, log.WithField("component", "market"))
	})

	sweeper := market.NewSweeper(cfg.SweepInterval, registry.SweepAll, log.WithField("component", "sweeper"))
	sweeper.Start(ctx)
	defer sweeper.Stop()

	handler := api.NewHandler(authService, registry, log.WithField("component", "api"))

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Listing change feed
	r.Get("/ws", hub.handle)

	r.Mount("/", handler.Router())

	server := &http.Server{Addr: cfg.Addr, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			entry.WithError(err).Warn("shutdown did not finish cleanly")
		}
	}()

	entry.WithField("addr", cfg.Addr).Info("starting server")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		entry.WithError(err).Fatal("server failed")
	}
	entry.Info("server stopped")
}
