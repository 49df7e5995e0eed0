package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bapnode.org/internal/config"
	"bapnode.org/internal/correlation"
	"bapnode.org/internal/dispatch"
	"bapnode.org/internal/gateway"
	"bapnode.org/internal/httpapi"
	"bapnode.org/internal/obs"
	"bapnode.org/internal/order"
	"bapnode.org/internal/registry"
	"bapnode.org/internal/signing"
	"bapnode.org/internal/stream"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// A node that cannot sign cannot participate; refuse to start.
	cred, err := signing.LoadCredential(cfg.SubscriberID, cfg.UniqueKeyID, cfg.SigningKey)
	if err != nil {
		log.Fatalf("signing key: %v", err)
	}

	var db *sql.DB
	var keyStore registry.Store = registry.NewMemStore()
	var pending correlation.Store = correlation.NewMemory()
	var orders order.Store = order.NewMemory()
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		keyStore = registry.NewPGStore(db)
		pending = correlation.NewPG(db)
		orders = order.NewPG(db)
	} else {
		log.Print("no BAP_PG_DSN set, using in-memory stores")
	}

	policy := gateway.DefaultPolicy()
	if cfg.DeliveryMaxAttempts > 0 {
		policy.MaxAttempts = cfg.DeliveryMaxAttempts
	}
	if cfg.DeliveryBackoff > 0 {
		policy.Backoff = cfg.DeliveryBackoff
	}
	if cfg.DeliveryMaxElapsed > 0 {
		policy.MaxElapsed = cfg.DeliveryMaxElapsed
	}
	sender := gateway.New(policy)

	keys := registry.NewCache(keyStore, registry.NewClient(sender, cfg.RegistryURL))
	hub := stream.NewHub()
	dispatcher := dispatch.New(pending, orders, hub)

	self := httpapi.Self{
		SubscriberID:  cfg.SubscriberID,
		SubscriberURI: cfg.SubscriberURI,
		Domain:        cfg.Domain,
		Country:       cfg.Country,
		City:          cfg.City,
		CoreVersion:   cfg.CoreVersion,
		GatewayURL:    cfg.GatewayURL,
	}
	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, self, cred, keys, pending, orders, dispatcher, hub, sender)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting bapnode-api %s on %s as %s", version, srv.Addr, cfg.SubscriberID)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
