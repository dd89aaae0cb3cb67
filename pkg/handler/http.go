// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/presence"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const defaultLedgerLimit = 50

// Presence is the lifecycle manager surface the API drives.
type Presence interface {
	HandleArrival(ctx context.Context, username, room string) (bool, error)
	HandleDeparture(ctx context.Context, username, room string)
	SetAFK(username, room string, afk bool) error
	Sessions(room string) []presence.Session
}

// Accounts is the account store surface the API reads.
type Accounts interface {
	GetAccount(ctx context.Context, k account.Key) (*account.Account, error)
	GetOrCreateStreakRecord(ctx context.Context, k account.Key) (*account.StreakRecord, error)
	GetDailyCounters(ctx context.Context, k account.Key, date string) (*account.DailyCounters, error)
	Ledger(ctx context.Context, k account.Key, limit int) ([]account.LedgerEntry, error)
	Debit(ctx context.Context, k account.Key, amount int64, reason string) (int64, error)
}

// HealthChecker reports dependency health.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// API serves presence ingress and the read API over HTTP.
type API struct {
	presence Presence
	accounts Accounts
	health   HealthChecker
}

// NewAPI creates the HTTP API. health may be nil.
func NewAPI(p Presence, accounts Accounts, health HealthChecker) *API {
	return &API{presence: p, accounts: accounts, health: health}
}

// Routes returns the router.
func (a *API) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", a.healthz)
	r.Route("/v1/rooms/{room}", func(r chi.Router) {
		r.Get("/sessions", a.listSessions)
		r.Route("/users/{username}", func(r chi.Router) {
			r.Post("/arrival", a.arrival)
			r.Post("/departure", a.departure)
			r.Put("/afk", a.afk)
			r.Get("/account", a.getAccount)
			r.Get("/streak", a.getStreak)
			r.Get("/daily/{date}", a.getDaily)
			r.Get("/ledger", a.getLedger)
			r.Post("/debit", a.debit)
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		logrus.WithFields(logrus.Fields{
			"request_id":  chimw.GetReqID(r.Context()),
			"method":      r.Method,
			"route":       route,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeHTTPError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, account.ErrAccountNotFound):
		writeHTTPError(w, http.StatusNotFound, "account_not_found")
	case errors.Is(err, account.ErrInsufficientBalance):
		writeHTTPError(w, http.StatusConflict, "insufficient_balance")
	case errors.Is(err, account.ErrAccountBanned):
		writeHTTPError(w, http.StatusForbidden, "account_banned")
	default:
		logrus.Errorf("account store request failed: %v", err)
		writeHTTPError(w, http.StatusServiceUnavailable, "store_unavailable")
	}
}

func userKey(r *http.Request) account.Key {
	return account.NewKey(chi.URLParam(r, "username"), chi.URLParam(r, "room"))
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health.Check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) arrival(w http.ResponseWriter, r *http.Request) {
	username, room := chi.URLParam(r, "username"), chi.URLParam(r, "room")
	genuine, err := a.presence.HandleArrival(r.Context(), username, room)
	if err != nil {
		// the session is tracked even when classification failed
		logrus.Warnf("arrival of %s in %s: %v", username, room, err)
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"genuine": false, "error": "classification_failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"genuine": genuine})
}

func (a *API) departure(w http.ResponseWriter, r *http.Request) {
	a.presence.HandleDeparture(r.Context(), chi.URLParam(r, "username"), chi.URLParam(r, "room"))
	w.WriteHeader(http.StatusNoContent)
}

type afkRequest struct {
	AFK bool `json:"afk"`
}

func (a *API) afk(w http.ResponseWriter, r *http.Request) {
	var req afkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeHTTPError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if err := a.presence.SetAFK(chi.URLParam(r, "username"), chi.URLParam(r, "room"), req.AFK); err != nil {
		if errors.Is(err, presence.ErrSessionNotFound) {
			writeHTTPError(w, http.StatusNotFound, "session_not_found")
			return
		}
		writeHTTPError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": a.presence.Sessions(chi.URLParam(r, "room"))})
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := a.accounts.GetAccount(r.Context(), userKey(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) getStreak(w http.ResponseWriter, r *http.Request) {
	rec, err := a.accounts.GetOrCreateStreakRecord(r.Context(), userKey(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) getDaily(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(account.DateLayout, date); err != nil {
		writeHTTPError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	counters, err := a.accounts.GetDailyCounters(r.Context(), userKey(r), date)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

func (a *API) getLedger(w http.ResponseWriter, r *http.Request) {
	limit := defaultLedgerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeHTTPError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}
	entries, err := a.accounts.Ledger(r.Context(), userKey(r), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

type debitRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (a *API) debit(w http.ResponseWriter, r *http.Request) {
	var req debitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		writeHTTPError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	balance, err := a.accounts.Debit(r.Context(), userKey(r), req.Amount, req.Reason)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}
