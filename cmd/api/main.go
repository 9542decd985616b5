package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/badoux/checkmail"
	"github.com/sirupsen/logrus"

	"mailprobe/internal/cache"
	"mailprobe/internal/config"
	"mailprobe/internal/lookup"
	"mailprobe/internal/models"
	"mailprobe/internal/proxy"
	"mailprobe/internal/queue"
	"mailprobe/internal/store"
	"mailprobe/internal/verifier"
)

type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	queue    *queue.Queue
	store    *store.Store
	verifier *verifier.Verifier
	resolver *lookup.Resolver
}

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	q, err := queue.Connect(cfg.RedisAddr)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer q.Close()
	log.WithField("addr", cfg.RedisAddr).Info("connected to redis")

	if cfg.DatabaseURL == "" {
		log.Fatal("DB_URL environment variable is required")
	}
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()
	log.Info("connected to postgres, migrations applied")

	var proxyMgr *proxy.Manager
	if len(cfg.ProxyList) > 0 && cfg.SMTPProxyEnabled {
		proxyMgr, err = proxy.NewManager(cfg.ProxyList, cfg.ProxyConcurrency)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize proxy manager")
		}
		log.WithField("proxies", proxyMgr.Size()).Warn("SMTP proxying enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mxCache := cache.New()
	mxCache.StartCleanup(ctx, 5*time.Minute)

	resolver := lookup.NewResolver(mxCache, cfg.MXCacheTTL)
	a := &app{
		cfg:      cfg,
		log:      log,
		queue:    q,
		store:    db,
		resolver: resolver,
		verifier: verifier.New(verifier.Config{
			EnvelopeSender: cfg.EnvelopeSender,
			HeloName:       cfg.HeloName,
			SMTPTimeout:    cfg.SMTPTimeout,
			MaxAttempts:    cfg.MaxAttempts,
			Backoff:        cfg.Backoff,
			JitterFraction: cfg.JitterFraction,
			Proxy:          proxyMgr,
		}, resolver),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/verify", enableCORS(a.requireAPIKey(a.verifyHandler)))
	mux.HandleFunc("/upload", enableCORS(a.requireAPIKey(a.uploadHandler)))
	mux.HandleFunc("/status", enableCORS(a.requireAPIKey(a.statusHandler)))
	mux.HandleFunc("/results", enableCORS(a.requireAPIKey(a.resultsHandler)))
	mux.HandleFunc("/info", enableCORS(a.infoHandler))

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
		// /verify runs up to three SMTP attempts inline, so the write
		// timeout must outlast the whole retry schedule.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("mailprobe api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-quit
	log.Info("shutdown signal received, draining in-flight requests")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("graceful shutdown failed")
	}
	log.Info("server shut down cleanly")
}

// enableCORS sets permissive CORS headers for the dashboard. Restrict the
// origin before exposing this beyond a trusted network.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// VerifyResponse is a core Result annotated with hygiene flags that do
// not influence the verdict itself.
type VerifyResponse struct {
	models.Result
	IsDisposable  bool `json:"is_disposable"`
	IsRoleAccount bool `json:"is_role_account"`
	IsParkedMX    bool `json:"is_parked_mx"`
}

func (a *app) verifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		http.Error(w, "Missing 'email' parameter", http.StatusBadRequest)
		return
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		http.Error(w, "Malformed email", http.StatusBadRequest)
		return
	}

	result := a.verifier.Verify(r.Context(), email)

	resp := VerifyResponse{
		Result:        result,
		IsRoleAccount: lookup.IsRoleAccount(email),
	}
	if parts := strings.Split(email, "@"); len(parts) == 2 {
		resp.IsDisposable = lookup.IsDisposableDomain(parts[1])
		// When Verify resolved any MX records they are cached, so this
		// re-resolve is served from the cache; an empty answer is not
		// cached and is looked up again.
		if records := a.resolver.ResolveMX(r.Context(), parts[1]); len(records) > 0 {
			resp.IsParkedMX = lookup.IsParkedMX(records[0].Exchange)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if r.Context().Err() != nil {
		w.WriteHeader(http.StatusGatewayTimeout)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.log.WithError(err).WithField("email", email).Error("encoding /verify response")
	}
}

func (a *app) infoHandler(w http.ResponseWriter, _ *http.Request) {
	guide := map[string]interface{}{
		"service": "mailprobe",
		"version": "1.0.0",
		"capabilities": []string{
			"SMTP mailbox verification (RCPT TO, no DATA)",
			"EHLO/HELO fallback",
			"Greylist and retry-later detection",
			"Catch-all signalling via 252",
			"Bulk CSV verification jobs",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(guide); err != nil {
		a.log.WithError(err).Error("encoding /info response")
	}
}
