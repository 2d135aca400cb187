package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JAvZZe/tstr-site/internal/ports"
	"github.com/JAvZZe/tstr-site/internal/services/billing"
	"github.com/JAvZZe/tstr-site/internal/services/claims"
	"github.com/JAvZZe/tstr-site/internal/services/redirects"
)

// Server wires the core services to their HTTP endpoints.
type Server struct {
	claims    *claims.Service
	billing   *billing.Service
	redirects *redirects.Service
	provider  ports.PaymentProvider
	log       *slog.Logger

	jwtSecret string
	// verifySignatures gates webhook signature verification (live mode).
	verifySignatures bool
	rps              float64
	burst            int
}

type Options struct {
	JWTSecret        string
	VerifySignatures bool
	RedirectRPS      float64
	RedirectBurst    int
}

func New(claimSvc *claims.Service, billingSvc *billing.Service, redirectSvc *redirects.Service, provider ports.PaymentProvider, log *slog.Logger, opts Options) *Server {
	return &Server{
		claims:           claimSvc,
		billing:          billingSvc,
		redirects:        redirectSvc,
		provider:         provider,
		log:              log,
		jwtSecret:        opts.JWTSecret,
		verifySignatures: opts.VerifySignatures,
		rps:              opts.RedirectRPS,
		burst:            opts.RedirectBurst,
	}
}

// Routes returns the chi router for the core endpoints.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Authenticate(s.jwtSecret))

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(s.rps, s.burst))
		r.Get("/out", s.handleOut)
		r.Post("/api/claims", s.handleClaims)
		r.Post("/api/claims/verify", s.handleVerifyClaim)
	})

	r.Post("/api/paypal/webhook", s.handleWebhook)
	r.With(RequireAuth).Post("/api/subscription/cancel", s.handleCancelSubscription)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------- GET /out ----------

func (s *Server) handleOut(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	listingID := r.URL.Query().Get("listing")

	decision, err := s.redirects.Resolve(r.Context(), target, listingID, r.UserAgent(), r.Referer())
	if err != nil {
		// The error text never includes the stored website.
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, decision.Target, decision.Status)
}

// ---------- POST /api/claims ----------

type claimRequest struct {
	Mode          string `json:"mode"`
	ResumeToken   string `json:"resumeToken"`
	ListingID     string `json:"listingId"`
	ProviderName  string `json:"provider_name"`
	ContactName   string `json:"contact_name"`
	BusinessEmail string `json:"business_email"`
	Phone         string `json:"phone"`
	Website       string `json:"website"`
}

type claimDetails struct {
	Status     string     `json:"status"`
	Method     string     `json:"method"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type claimResponse struct {
	Success        bool         `json:"success"`
	Method         string       `json:"method"`
	Message        string       `json:"message"`
	Claim          claimDetails `json:"claim"`
	EmailDelivered bool         `json:"email_delivered"`
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var req claimRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ident, _ := IdentityFrom(r.Context())

	switch {
	case req.ResumeToken != "" && req.Mode != "save_draft":
		s.resumeDraft(w, r, req.ResumeToken)
	case req.Mode == "save_draft":
		s.saveDraft(w, r, body)
	case req.ListingID != "" && req.ProviderName == "":
		// Claim-an-existing-listing shortcut: account details stand in for
		// the form fields.
		res, err := s.claims.ClaimListing(r.Context(), ident.UserID, ident.Email, req.ListingID)
		s.respondClaim(w, res, err)
	default:
		res, err := s.claims.Submit(r.Context(), claims.SubmitInput{
			UserID:        ident.UserID,
			UserEmail:     ident.Email,
			ProviderName:  req.ProviderName,
			ContactName:   req.ContactName,
			BusinessEmail: req.BusinessEmail,
			Phone:         req.Phone,
			Website:       req.Website,
			ListingID:     req.ListingID,
		})
		s.respondClaim(w, res, err)
	}
}

func (s *Server) respondClaim(w http.ResponseWriter, res claims.Result, err error) {
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	msg := "Claim submitted. Manual verification required."
	if res.Method == "auto" {
		msg = "Successfully claimed. You are now the verified owner."
	} else if !res.EmailDelivered {
		msg = "Claim submitted. Email delivery failed - please contact support."
	}
	writeJSON(w, http.StatusOK, claimResponse{
		Success: true,
		Method:  res.Method,
		Message: msg,
		Claim: claimDetails{
			Status:     string(res.Status),
			Method:     res.Method,
			VerifiedAt: res.VerifiedAt,
			ExpiresAt:  res.TokenExpiresAt,
		},
		EmailDelivered: res.EmailDelivered,
	})
}

func (s *Server) saveDraft(w http.ResponseWriter, r *http.Request, body []byte) {
	receipt, err := s.claims.SaveDraft(r.Context(), body)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"mode":         "draft_saved",
		"resume_token": receipt.ResumeToken,
		"expires_at":   receipt.ExpiresAt,
	})
}

func (s *Server) resumeDraft(w http.ResponseWriter, r *http.Request, token string) {
	draft, err := s.claims.ResumeDraft(r.Context(), token)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"mode":       "resume",
		"draft":      json.RawMessage(draft.Payload),
		"expires_at": draft.ExpiresAt,
	})
}

// ---------- POST /api/claims/verify ----------

type verifyRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

func (s *Server) handleVerifyClaim(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ident, _ := IdentityFrom(r.Context())
	res, err := s.claims.RedeemToken(r.Context(), ident.UserID, req.Token, req.Code)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"claim": claimDetails{
			Status:     string(res.Status),
			Method:     res.Method,
			VerifiedAt: res.VerifiedAt,
		},
	})
}

// ---------- POST /api/paypal/webhook ----------

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Webhook endpoint ready"})
		return
	}

	if s.verifySignatures {
		sig := ports.WebhookSignature{
			AuthAlgo:         r.Header.Get("Paypal-Auth-Algo"),
			CertURL:          r.Header.Get("Paypal-Cert-Url"),
			TransmissionID:   r.Header.Get("Paypal-Transmission-Id"),
			TransmissionSig:  r.Header.Get("Paypal-Transmission-Sig"),
			TransmissionTime: r.Header.Get("Paypal-Transmission-Time"),
		}
		valid, err := s.provider.VerifyWebhook(r.Context(), sig, body)
		if err != nil {
			s.log.Error("webhook signature verification failed", "error", err)
			writeError(w, http.StatusInternalServerError, "signature verification unavailable")
			return
		}
		if !valid {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	ev, err := billing.ParseEvent(body)
	if err != nil {
		// Permanently malformed payload; nothing a retry can fix.
		s.log.Warn("unparseable webhook payload", "error", err)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if err := s.billing.HandleEvent(r.Context(), ev); err != nil {
		s.log.Error("webhook processing failed", "event_type", ev.Type, "error", err)
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ---------- POST /api/subscription/cancel ----------

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.Body != nil {
		// Body is optional; a bare POST cancels with the default reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	ident, _ := IdentityFrom(r.Context())

	err := s.billing.Cancel(r.Context(), ident.UserID, req.Reason)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, billing.ErrNoSubscription):
		writeError(w, http.StatusBadRequest, "no active subscription found")
	case errors.Is(err, ports.ErrProviderUnavailable), errors.Is(err, ports.ErrProviderError):
		s.log.Error("provider cancel failed", "user_id", ident.UserID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to cancel subscription with payment provider")
	default:
		s.log.Error("cancel failed", "user_id", ident.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ---------- helpers ----------

func (s *Server) writeClaimError(w http.ResponseWriter, err error) {
	var ve *claims.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Msg)
	case errors.Is(err, claims.ErrAuthRequired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, claims.ErrListingNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, claims.ErrAlreadyClaimed),
		errors.Is(err, claims.ErrDuplicateClaim),
		errors.Is(err, claims.ErrAlreadyOwner):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, claims.ErrInvalidToken),
		errors.Is(err, claims.ErrTokenExpired),
		errors.Is(err, claims.ErrInvalidCode),
		errors.Is(err, claims.ErrInvalidOrExpiredResume):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("claim request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
