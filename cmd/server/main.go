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

	"payment_backend/internal/config"
	httpd "payment_backend/internal/delivery/http"
	"payment_backend/internal/emvqr"
	"payment_backend/internal/repository"
	"payment_backend/internal/usecase"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		panic(err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	repo, err := repository.NewSQLiteRepo(cfg.SQLiteDSN)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer repo.Close()

	signer, err := cfg.Signer()
	if err != nil {
		log.Fatal("load signing keys", zap.Error(err))
	}
	builder := emvqr.NewBuilder(signer,
		emvqr.WithMerchant(cfg.QRMerchantName, cfg.QRMerchantCity),
		emvqr.WithSignatureLength(cfg.QRSignatureLength),
	)

	access := usecase.NewAccessService(repo, log)
	reconciler := usecase.NewReconciler(usecase.NewStore(repo), access, log)
	uc := usecase.NewQRUsecase(repo, builder, signer, reconciler, usecase.QRConfig{
		TTL:         cfg.QRTTL(),
		BankCode:    cfg.QRBankCode,
		BankAccount: cfg.QRBankAccount,
	}, log)

	if cfg.HMACSecret == "" {
		log.Warn("request signatures are disabled: set HMAC_SECRET to protect /api/v1 writes")
	}
	if cfg.SePayWebhookSecret == "" && cfg.SePayWebhookAPIKey == "" {
		log.Warn("webhook authentication is disabled: set SEPAY_WEBHOOK_SECRET or SEPAY_WEBHOOK_API_KEY")
	}

	h := httpd.NewHandler(uc, reconciler, repo, log)
	r := h.Routes(httpd.RouterConfig{
		Sig: httpd.SigConfig{
			Secret:        cfg.HMACSecret,
			MaxAgeSeconds: cfg.SigMaxAgeSeconds,
		},
		Webhook: httpd.WebhookAuthConfig{
			Secret: cfg.SePayWebhookSecret,
			APIKey: cfg.SePayWebhookAPIKey,
		},
		CORSOrigins:        cfg.CORSOriginList(),
		DebugRatePerSecond: cfg.DebugRatePerSecond,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("shutdown", zap.Error(err))
		}
	}()

	log.Info("server listening",
		zap.String("addr", srv.Addr),
		zap.String("env", cfg.AppEnv),
		zap.String("signingKey", signer.CurrentKeyID()),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("listen", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Dev() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
