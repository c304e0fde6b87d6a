// Package api exposes the thin HTTP surface: sync triggers, stored snapshot
// and baseline reads, provider listing, and the operational endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cloudbill/costsync/internal/costs"
	"github.com/cloudbill/costsync/internal/storage"
	"github.com/cloudbill/costsync/internal/syncer"
	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

type Handler struct {
	store        storage.Storage
	orchestrator *syncer.Orchestrator
	log          zerolog.Logger
}

// NewMux constructs the HTTP mux, wiring in sync triggers, read endpoints,
// metrics, and health checks.
func NewMux(store storage.Storage, orchestrator *syncer.Orchestrator, log zerolog.Logger) *http.ServeMux {
	h := &Handler{store: store, orchestrator: orchestrator, log: log}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", h.ready)
	mux.HandleFunc("GET /v1/providers", h.listProviders)
	mux.HandleFunc("POST /v1/tenants/{tenant}/sync", h.syncTenant)
	mux.HandleFunc("POST /v1/tenants/{tenant}/accounts/{account}/sync", h.syncAccount)
	mux.HandleFunc("GET /v1/tenants/{tenant}/accounts/{account}/snapshot", h.getSnapshot)
	mux.HandleFunc("GET /v1/tenants/{tenant}/accounts/{account}/baselines", h.listBaselines)
	return mux
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("readiness ping failed")
		http.Error(w, "storage not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type providerDTO struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Granularity string `json:"granularity"`
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	var list []providerDTO
	for _, key := range cloudproviders.List() {
		p, ok := cloudproviders.Get(key)
		if !ok {
			continue
		}
		list = append(list, providerDTO{
			Key:         p.Key(),
			Name:        p.Name(),
			Granularity: string(p.Granularity()),
		})
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) syncTenant(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	force := r.URL.Query().Get("force") == "1" || strings.EqualFold(r.URL.Query().Get("force"), "true")

	var accountIDs []string
	if raw := r.URL.Query().Get("accounts"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				accountIDs = append(accountIDs, id)
			}
		}
	}

	outcomes, err := h.orchestrator.RunTenantSync(r.Context(), tenant, accountIDs, force)
	if err != nil {
		h.log.Error().Err(err).Str("tenant", tenant).Msg("tenant sync request failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse(outcomes))
}

func (h *Handler) syncAccount(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	account := r.PathValue("account")
	force := r.URL.Query().Get("force") == "1" || strings.EqualFold(r.URL.Query().Get("force"), "true")

	outcome, err := h.orchestrator.RunAccountSync(r.Context(), tenant, account, force)
	if err != nil {
		h.log.Error().Err(err).Str("tenant", tenant).Str("account", account).Msg("account sync request failed")
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	account := r.PathValue("account")
	provider := r.URL.Query().Get("provider")
	period := r.URL.Query().Get("period")
	if period == "" {
		period = costs.Period(time.Now().UTC())
	}
	if provider == "" {
		acc, err := h.store.GetAccount(r.Context(), tenant, account)
		if err != nil || acc == nil {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		provider = acc.ProviderKey
	}

	rec, err := h.store.GetSnapshot(r.Context(), tenant, provider, account, period)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "snapshot not found", http.StatusNotFound)
		return
	}

	var snap costs.CostSnapshot
	if err := json.Unmarshal(rec.Payload, &snap); err != nil {
		http.Error(w, "stored snapshot unreadable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) listBaselines(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	account := r.PathValue("account")
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		acc, err := h.store.GetAccount(r.Context(), tenant, account)
		if err != nil || acc == nil {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		provider = acc.ProviderKey
	}

	since := time.Now().UTC().AddDate(0, 0, -7)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(costs.DateLayout, raw)
		if err != nil {
			http.Error(w, "since must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	recs, err := h.store.ListBaselines(r.Context(), tenant, provider, account, since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type syncResponseBody struct {
	Total    int                 `json:"total"`
	Success  int                 `json:"success"`
	Failed   int                 `json:"failed"`
	Outcomes []costs.SyncOutcome `json:"outcomes"`
}

func syncResponse(outcomes []costs.SyncOutcome) syncResponseBody {
	body := syncResponseBody{Total: len(outcomes), Outcomes: outcomes}
	for _, out := range outcomes {
		if out.Success {
			body.Success++
		} else {
			body.Failed++
		}
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
