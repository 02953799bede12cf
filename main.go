package main

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	// 1. Load configuration
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("Config error:", err)
	}

	// 2. Setup Blockchain Client
	client, market, err := initBlockchain(context.Background(), cfg)
	if err != nil {
		log.Fatal("Blockchain init error:", err)
	}
	defer client.Close()

	// 3. Setup submission log
	var store *Store
	if cfg.DBPath != "" {
		if store, err = OpenStore(cfg.DBPath); err != nil {
			log.Fatal(err)
		}
		defer store.Close()
	}

	env := &Env{
		Market:       market,
		Coinbase:     cfg.Coinbase,
		GasLimit:     cfg.GasLimit,
		Store:        store,
		StrictStatus: cfg.StrictStatus,
		CallTimeout:  cfg.CallTimeout,
	}

	log.Println("Listening at " + listenURL(cfg.ListenAddr))
	if err := http.ListenAndServe(cfg.ListenAddr, newRouter(env)); err != nil {
		log.Fatal(err)
	}
}

func newRouter(env *Env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(withEnv(env))

	r.Mount("/product", productRoutes())
	return r
}

func listenURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
