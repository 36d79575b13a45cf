package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/emberwallet/ember/internal/accounts"
	"github.com/emberwallet/ember/internal/api"
	"github.com/emberwallet/ember/internal/approval"
	"github.com/emberwallet/ember/internal/chains"
	"github.com/emberwallet/ember/internal/config"
	"github.com/emberwallet/ember/internal/events"
	"github.com/emberwallet/ember/internal/handler"
	"github.com/emberwallet/ember/internal/notify"
	"github.com/emberwallet/ember/internal/store"
	"github.com/emberwallet/ember/internal/txprep"
	"github.com/emberwallet/ember/internal/vault"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	if err := config.Init(); err != nil {
		log.Fatalw("failed to load config", "err", err)
	}
	cfg := config.Get()

	db, err := store.OpenBolt(cfg.StorePath)
	if err != nil {
		log.Fatalw("failed to open store", "path", cfg.StorePath, "err", err)
	}
	defer db.Close()

	hub := events.NewHub(log)
	v := vault.New(db, hub, log)
	registry := accounts.NewRegistry(v, db, hub, log)
	chainRegistry := chains.NewRegistry(db, hub, log)

	var notifier notify.Notifier = notify.Noop{}
	if cfg.ApprovalNotifyURL != "" {
		notifier = notify.NewWebhook(cfg.ApprovalNotifyURL, log)
	}
	broker := approval.NewBroker(db, notifier, log,
		approval.WithPollInterval(cfg.ApprovalPollInterval),
		approval.WithTTL(cfg.ApprovalTTL),
	)

	dial := func(ctx context.Context, desc chains.Descriptor) (chains.Client, error) {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
		defer cancel()
		return chains.Dial(dialCtx, desc)
	}
	pipeline := txprep.NewPipeline(chainRegistry, dial, broker, registry, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.UnlockOnStart {
		unlockOnStart(ctx, v, log)
	}

	h := handler.NewWalletHandler(v, registry, chainRegistry, broker, pipeline, dial, log)
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.SetupRouter(h),
	}

	go func() {
		log.Infow("listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "err", err)
		}
	}()

	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnw("shutdown failed", "err", err)
	}
}

// unlockOnStart prompts for the wallet password in the terminal and unlocks
// an already-initialized wallet before serving requests.
func unlockOnStart(ctx context.Context, v *vault.Vault, log *zap.SugaredLogger) {
	initialized, err := v.IsInitialized(ctx)
	if err != nil || !initialized {
		log.Infow("wallet not initialized, skipping unlock prompt")
		return
	}

	password, err := config.PromptForPassword()
	if err != nil {
		log.Warnw("failed to read password", "err", err)
		return
	}
	defer clear(password)

	if _, err := v.Unlock(ctx, string(password)); err != nil {
		log.Warnw("failed to unlock wallet", "err", err)
	}
}
