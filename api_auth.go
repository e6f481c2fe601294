package authcore

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

const maxRequestBody = 1 << 20

// APIAuth exposes the Engine as a JSON API under /auth
type APIAuth struct {
	Engine *Engine

	// AllowTrustedRegistration enables POST /auth/register/dev, which creates
	// accounts that are verified immediately. Only for development.
	AllowTrustedRegistration bool

	Logger *slog.Logger
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type federatedRequest struct {
	Token string `json:"token"`
}

type linkRequest struct {
	Provider string `json:"provider"`
	Token    string `json:"token"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MessageResponse is the body of operations that only report an outcome
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Field            string `json:"field,omitempty"`
}

func (a *APIAuth) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// Routes registers every endpoint on r. Mount r at the site root; paths carry the /auth prefix.
func (a *APIAuth) Routes(r *mux.Router) {
	s := r.PathPrefix("/auth").Subrouter()
	s.HandleFunc("/register", a.HandleRegister).Methods(http.MethodPost)
	s.HandleFunc("/register/dev", a.HandleRegisterDev).Methods(http.MethodPost)
	s.HandleFunc("/login", a.HandleLogin).Methods(http.MethodPost)
	s.HandleFunc("/refresh", a.HandleRefresh).Methods(http.MethodPost)
	s.HandleFunc("/forgot-password", a.HandleForgotPassword).Methods(http.MethodPost)
	s.HandleFunc("/reset-password", a.HandleResetPassword).Methods(http.MethodPost)
	s.HandleFunc("/verify-email", a.HandleVerifyEmail).Methods(http.MethodPost)
	s.HandleFunc("/resend-verification", a.HandleResendVerification).Methods(http.MethodPost)
	s.HandleFunc("/google", a.federatedHandler(ProviderGoogle)).Methods(http.MethodPost)
	s.HandleFunc("/apple", a.federatedHandler(ProviderApple)).Methods(http.MethodPost)
	s.HandleFunc("/link", a.HandleLink).Methods(http.MethodPost)

	bearer := &APIMiddleware{Tokens: a.Engine.Tokens}
	s.Handle("/me", bearer.ValidateToken(http.HandlerFunc(a.HandleMe))).Methods(http.MethodGet)
}

// Handler returns a router serving only the auth API
func (a *APIAuth) Handler() http.Handler {
	r := mux.NewRouter()
	a.Routes(r)
	return r
}

func (a *APIAuth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	a.register(w, r, true)
}

func (a *APIAuth) HandleRegisterDev(w http.ResponseWriter, r *http.Request) {
	if !a.AllowTrustedRegistration {
		a.fail(w, r, forbiddenError("Trusted registration is disabled"))
		return
	}
	a.register(w, r, false)
}

func (a *APIAuth) register(w http.ResponseWriter, r *http.Request, requireVerification bool) {
	var req RegisterInput
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.Engine.Register(r.Context(), req, requireVerification)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	tokenResponse(w, http.StatusCreated, result)
}

func (a *APIAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.Engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	tokenResponse(w, http.StatusOK, result)
}

func (a *APIAuth) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !a.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		a.fail(w, r, invalidInput("Refresh token is required", "refresh_token"))
		return
	}
	pair, err := a.Engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	tokenResponse(w, http.StatusOK, pair)
}

func (a *APIAuth) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	msg, err := a.Engine.ForgotPassword(r.Context(), req.Email)
	a.message(w, r, msg, err)
}

func (a *APIAuth) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !a.decode(w, r, &req) {
		return
	}
	msg, err := a.Engine.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword)
	a.message(w, r, msg, err)
}

func (a *APIAuth) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !a.decode(w, r, &req) {
		return
	}
	msg, err := a.Engine.VerifyEmail(r.Context(), req.Email, req.Code)
	a.message(w, r, msg, err)
}

func (a *APIAuth) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	msg, err := a.Engine.ResendVerification(r.Context(), req.Email)
	a.message(w, r, msg, err)
}

func (a *APIAuth) federatedHandler(provider Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req federatedRequest
		if !a.decode(w, r, &req) {
			return
		}
		result, err := a.Engine.LoginWithFederatedIdentity(r.Context(), provider, req.Token)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		tokenResponse(w, http.StatusOK, result)
	}
}

func (a *APIAuth) HandleLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !a.decode(w, r, &req) {
		return
	}
	provider, ok := ParseProvider(req.Provider)
	if !ok || !provider.IsFederated() {
		a.fail(w, r, invalidInput("Unsupported provider", "provider"))
		return
	}
	result, err := a.Engine.LinkFederatedIdentity(r.Context(), provider, req.Token, req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	tokenResponse(w, http.StatusOK, result)
}

func (a *APIAuth) HandleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := a.Engine.GetProfile(r.Context(), IdentityIDFromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}

// decode reads a JSON body, answering 400 itself on failure
func (a *APIAuth) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
	if err != nil {
		a.fail(w, r, &AuthError{Kind: KindInvalidInput, Message: "Invalid request body", Err: err})
		return false
	}
	return true
}

func (a *APIAuth) message(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, MessageResponse{Message: msg})
}

func (a *APIAuth) fail(w http.ResponseWriter, r *http.Request, err error) {
	if KindOf(err) == KindInternal {
		a.logger().ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("client_ip", getClientIP(r)),
			slog.Any("error", err),
		)
	}
	WriteError(w, err)
}

// WriteJSON sends v as a JSON body with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError sends the public form of err with the status its kind maps to
func WriteError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{
		Error:            string(KindOf(err)),
		ErrorDescription: PublicMessage(err),
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		resp.Field = ae.Field
	}
	status := HTTPStatus(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	WriteJSON(w, status, resp)
}

// tokenResponse sends a body carrying credentials, which must never be cached
func tokenResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	WriteJSON(w, status, v)
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if colonIdx := strings.LastIndex(ip, ":"); colonIdx != -1 {
		ip = ip[:colonIdx]
	}
	return ip
}
