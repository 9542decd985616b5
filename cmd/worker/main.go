package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"mailprobe/internal/cache"
	"mailprobe/internal/config"
	"mailprobe/internal/lookup"
	"mailprobe/internal/proxy"
	"mailprobe/internal/queue"
	"mailprobe/internal/store"
	"mailprobe/internal/verifier"
	"mailprobe/internal/worker"
)

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	log.Info("starting mailprobe worker")

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
		log.WithFields(logrus.Fields{
			"proxies": proxyMgr.Size(),
			"limit":   proxyMgr.Limit(),
		}).Warn("SMTP proxying enabled, port-25 traffic routes through proxies")
	} else {
		log.Info("SMTP proxying disabled, dialing direct")
	}

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 50
		if proxyMgr != nil {
			concurrency = proxyMgr.Limit() * 2
			if concurrency < 10 {
				concurrency = 10
			}
		}
		log.WithField("concurrency", concurrency).Info("auto-tuned WORKER_CONCURRENCY")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MX answers are cached well past a typical job's lifetime; sweep
	// more often than the TTL so expired entries do not pile up.
	mxCache := cache.New()
	mxCache.StartCleanup(ctx, 5*time.Minute)

	resolver := lookup.NewResolver(mxCache, cfg.MXCacheTTL)
	v := verifier.New(verifier.Config{
		EnvelopeSender: cfg.EnvelopeSender,
		HeloName:       cfg.HeloName,
		SMTPTimeout:    cfg.SMTPTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		Backoff:        cfg.Backoff,
		JitterFraction: cfg.JitterFraction,
		Proxy:          proxyMgr,
	}, resolver)

	pool := &worker.Pool{
		Queue:       q,
		Store:       db,
		Verifier:    v,
		Concurrency: concurrency,
		Log:         log,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	<-quit
	log.Info("shutdown signal received, draining in-flight jobs")
	cancel()

	const drainTimeout = 30 * time.Second
	select {
	case <-done:
	case <-time.After(drainTimeout):
		log.Warn("drain timeout elapsed with jobs still in flight")
	}

	log.Info("worker shut down cleanly")
}
