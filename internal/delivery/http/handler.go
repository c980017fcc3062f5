package httpd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"payment_backend/internal/domain"
	"payment_backend/internal/emvqr"
	"payment_backend/internal/repository"
	"payment_backend/internal/usecase"
)

type Handler struct {
	uc         *usecase.QRUsecase
	reconciler *usecase.Reconciler
	repo       *repository.SQLiteRepo
	validate   *validator.Validate
	log        *zap.Logger
}

func NewHandler(uc *usecase.QRUsecase, reconciler *usecase.Reconciler, repo *repository.SQLiteRepo, log *zap.Logger) *Handler {
	return &Handler{
		uc:         uc,
		reconciler: reconciler,
		repo:       repo,
		validate:   validator.New(),
		log:        log,
	}
}

type RouterConfig struct {
	Sig                SigConfig
	Webhook            WebhookAuthConfig
	CORSOrigins        []string
	DebugRatePerSecond float64
}

func (h *Handler) Routes(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Timestamp", "X-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.With(WebhookAuth(cfg.Webhook, h.log)).Post("/hooks/sepay-payment", h.SePayWebhook)

	ratePerSecond := cfg.DebugRatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = 2
	}
	debugLimiter := rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", h.Healthz)
		r.Get("/qr/image/{transactionId}", h.QRImage)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{transactionId}", h.GetTransaction)
		r.With(RateLimit(debugLimiter)).Post("/qr/debug/parse", h.DebugParse)

		r.Group(func(r chi.Router) {
			if cfg.Sig.Secret != "" {
				r.Use(SignatureMiddleware(cfg.Sig))
			}
			r.Post("/qr/generate", h.GenerateQR)
			r.Post("/orders/{orderId}/qr", h.GenerateOrderQR)
			r.Post("/qr/validate", h.ValidateQR)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

var errBadAmount = errors.New("invalid amount format")

func parseAmount(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, errBadAmount
	}
	return d, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// POST /api/v1/qr/generate
func (h *Handler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	var req GenerateQRReq
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be > 0")
		return
	}

	tx, built, err := h.uc.GenerateQR(r.Context(), usecase.GenerateQRInput{
		BankCode:    req.BankCode,
		BankAccount: req.BankAccount,
		Amount:      amount,
		Message:     req.Message,
		ClientRef:   req.ClientRef,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		h.writeIssueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResp(tx, built))
}

// POST /api/v1/orders/{orderId}/qr
func (h *Handler) GenerateOrderQR(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil || orderID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req GenerateOrderQRReq
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	tx, built, err := h.uc.GenerateOrderQR(r.Context(), orderID, req.CreatedBy)
	if err != nil {
		h.writeIssueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResp(tx, built))
}

func generateResp(tx *domain.QrTransaction, built emvqr.Built) GenerateQRResp {
	return GenerateQRResp{
		ResponseCode:    "2004700",
		ResponseMessage: "Successful",
		TransactionID:   tx.TransactionID,
		Amount:          tx.Amount,
		QRContent:       built.Content,
		ImageURL:        "/api/v1/qr/image/" + tx.TransactionID,
		ExpireAt:        tx.ExpireAt,
	}
}

func (h *Handler) writeIssueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usecase.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, usecase.ErrOrderNotPayable), errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, usecase.ErrInvalidAmount),
		errors.Is(err, emvqr.ErrUnknownBank),
		errors.Is(err, emvqr.ErrMissingField),
		errors.Is(err, emvqr.ErrReferenceTooLong),
		errors.Is(err, emvqr.ErrValueTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.With(zap.Error(err)).Error("issue qr failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// GET /api/v1/qr/image/{transactionId}?size=
func (h *Handler) QRImage(w http.ResponseWriter, r *http.Request) {
	size := emvqr.DefaultImageSize
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 100 && n <= 1000 {
			size = n
		}
	}

	var buf bytes.Buffer
	if err := h.uc.Image(r.Context(), chi.URLParam(r, "transactionId"), &buf, size); err != nil {
		if errors.Is(err, usecase.ErrTransactionNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		h.log.With(zap.Error(err)).Error("render qr image failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// POST /api/v1/qr/validate
func (h *Handler) ValidateQR(w http.ResponseWriter, r *http.Request) {
	var req ValidateQRReq
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.uc.ValidateAndMark(r.Context(), req.QRContent, req.Username)
	if err != nil {
		h.log.With(zap.Error(err)).Error("validate qr failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, ValidateQRResp{
		Valid:         res.Valid,
		TransactionID: res.TransactionID,
		OrderID:       res.OrderID,
		Message:       res.Message,
	})
}

// POST /api/v1/qr/debug/parse
func (h *Handler) DebugParse(w http.ResponseWriter, r *http.Request) {
	var req DebugParseReq
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.uc.Inspect(r.Context(), req.QRContent, req.TransactionID)
	if errors.Is(err, usecase.ErrTransactionNotFound) {
		report = emvqr.Report{
			Fields:      map[string]string{},
			Diagnostics: emvqr.Diagnostics{fmt.Sprintf("transaction %s not found", req.TransactionID)},
		}
		err = nil
	}
	if err != nil {
		h.log.With(zap.Error(err)).Error("debug parse failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if report.Diagnostics == nil {
		report.Diagnostics = emvqr.Diagnostics{}
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /hooks/sepay-payment
//
// Authenticated deliveries are always acknowledged with 200 unless the store
// failed, so the gateway only retries what was not processed.
func (h *Handler) SePayWebhook(w http.ResponseWriter, r *http.Request) {
	var p domain.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.log.With(zap.Error(err)).Warn("webhook payload could not be decoded")
		writeJSON(w, http.StatusOK, WebhookAck{
			Success: true,
			Outcome: string(domain.OutcomeIgnored),
			Reason:  string(domain.ReasonMalformed),
		})
		return
	}

	out, err := h.reconciler.Process(r.Context(), p)
	if err != nil {
		h.log.With(zap.Error(err)).Error("webhook processing failed", zap.Int64("webhookId", p.ID))
		writeJSON(w, http.StatusInternalServerError, WebhookAck{Outcome: "error", Reason: "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, WebhookAck{
		Success:       true,
		Outcome:       string(out.Kind),
		Reason:        string(out.Reason),
		MatchedBy:     string(out.MatchedBy),
		OrderID:       out.OrderID,
		TransactionID: out.TransactionID,
	})
}

// GET /api/v1/transactions?bankCode=&bankAccount=&createdBy=&used=&limit=&offset=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TxFilter{
		BankCode:    q.Get("bankCode"),
		BankAccount: q.Get("bankAccount"),
		CreatedBy:   q.Get("createdBy"),
	}
	if v := q.Get("used"); v != "" {
		used, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid used filter")
			return
		}
		filter.Used = &used
	}

	limit := 50
	offset := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	items, err := h.repo.ListTransactions(r.Context(), filter, limit, offset)
	if err != nil {
		h.log.With(zap.Error(err)).Error("list transactions failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]TxItem, 0, len(items))
	for _, t := range items {
		out = append(out, toTxItem(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/transactions/{transactionId}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.repo.GetTransaction(r.Context(), chi.URLParam(r, "transactionId"))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		h.log.With(zap.Error(err)).Error("get transaction failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toTxItem(*t))
}

func toTxItem(t domain.QrTransaction) TxItem {
	return TxItem{
		TransactionID:  t.TransactionID,
		BankCode:       t.BankCode,
		BankAccount:    t.BankAccount,
		Amount:         t.Amount,
		Message:        t.Message,
		CreatedBy:      t.CreatedBy,
		CreatedAt:      t.CreatedAt,
		ExpireAt:       t.ExpireAt,
		Used:           t.Used,
		UsedBy:         t.UsedBy,
		UsedAt:         t.UsedAt,
		SignatureKeyID: t.SignatureKeyID,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
