package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"esusu.org/internal/audit"
	"esusu.org/internal/auth"
	"esusu.org/internal/tenure"
)

type createGroupRequest struct {
	Name string `json:"name"`
}

type futureTenureRequest struct {
	Amount       *int64  `json:"amount"`
	WillGoLiveAt *string `json:"will_go_live_at"`
}

type optInRequest struct {
	OptIn bool `json:"opt_in"`
}

type listResponse[T any] struct {
	Items []T       `json:"items"`
	AsOf  time.Time `json:"as_of"`
}

func items[T any](v []T) listResponse[T] {
	if v == nil {
		v = []T{}
	}
	return listResponse[T]{Items: v, AsOf: time.Now().UTC()}
}

func principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing authenticated user")
	}
	return userID, ok
}

// --- /v1/groups ---

func (a *API) handleGroupsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createGroup(w, r)
	case http.MethodGet:
		a.listGroups(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if len(name) > 128 {
		writeError(w, r, http.StatusBadRequest, "name must be <=128 characters")
		return
	}

	g, err := a.svc.CreateGroup(r.Context(), name, userID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "group.create", map[string]any{"group": g.HashID})
	w.Header().Set("Location", "/v1/groups/"+g.HashID)
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) listGroups(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	groups, err := a.svc.ListGroups(r.Context(), includeDeleted)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items(groups))
}

// --- /v1/groups/{hash}[/...] ---

func (a *API) handleGroupResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/groups/")
	hashID, sub, _ := strings.Cut(path, "/")
	if hashID == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch sub {
	case "":
		a.groupRoot(w, r, hashID)
	case "restore":
		a.restoreGroup(w, r, hashID)
	case "future-tenure":
		a.futureTenure(w, r, hashID)
	case "watch":
		a.watchGroup(w, r, hashID)
	case "watches":
		a.listWatches(w, r, hashID)
	case "live-tenure":
		a.liveTenure(w, r, hashID)
	case "subscriptions":
		a.subscriptions(w, r, hashID)
	case "contributions":
		a.contributions(w, r, hashID)
	case "history":
		a.history(w, r, hashID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) groupRoot(w http.ResponseWriter, r *http.Request, hashID string) {
	switch r.Method {
	case http.MethodGet:
		a.getGroup(w, r, hashID)
	case http.MethodDelete:
		a.deleteGroup(w, r, hashID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) getGroup(w http.ResponseWriter, r *http.Request, hashID string) {
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	// soft-deleted groups stay visible to their admin only
	g, err := a.svc.GetGroup(r.Context(), hashID, true)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if g.Deleted() && g.AdminID != userID {
		writeError(w, r, http.StatusNotFound, "group not found")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// requireAdmin resolves the group and checks the caller administers it.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request, hashID string, includeDeleted bool) (tenure.Group, bool) {
	userID, ok := principal(w, r)
	if !ok {
		return tenure.Group{}, false
	}
	g, err := a.svc.GetGroup(r.Context(), hashID, includeDeleted)
	if err != nil {
		handleDomainError(w, r, err)
		return tenure.Group{}, false
	}
	if g.AdminID != userID {
		handleDomainError(w, r, fmt.Errorf("%w: only the group admin may do this", tenure.ErrForbidden))
		return tenure.Group{}, false
	}
	return g, true
}

// requireMember resolves the group and checks the caller belongs to it.
func (a *API) requireMember(w http.ResponseWriter, r *http.Request, hashID string) (tenure.Group, bool) {
	userID, ok := principal(w, r)
	if !ok {
		return tenure.Group{}, false
	}
	g, err := a.svc.GetGroup(r.Context(), hashID, false)
	if err != nil {
		handleDomainError(w, r, err)
		return tenure.Group{}, false
	}
	member, err := a.svc.HasMember(r.Context(), g, userID)
	if err != nil {
		handleDomainError(w, r, err)
		return tenure.Group{}, false
	}
	if !member {
		handleDomainError(w, r, fmt.Errorf("%w: not a member of this group", tenure.ErrForbidden))
		return tenure.Group{}, false
	}
	return g, true
}

func (a *API) deleteGroup(w http.ResponseWriter, r *http.Request, hashID string) {
	hard := r.URL.Query().Get("hard") == "true"
	if _, ok := a.requireAdmin(w, r, hashID, hard); !ok {
		return
	}
	if err := a.svc.DeleteGroup(r.Context(), hashID, hard); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "group.delete", map[string]any{
		"group": hashID, "hard": strconv.FormatBool(hard),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) restoreGroup(w http.ResponseWriter, r *http.Request, hashID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireAdmin(w, r, hashID, true); !ok {
		return
	}
	if err := a.svc.UndeleteGroup(r.Context(), hashID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "group.restore", map[string]any{"group": hashID})
	g, err := a.svc.GetGroup(r.Context(), hashID, false)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// --- future tenure ---

func (a *API) futureTenure(w http.ResponseWriter, r *http.Request, hashID string) {
	switch r.Method {
	case http.MethodGet:
		ft, err := a.svc.FutureTenureByGroup(r.Context(), hashID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ft)
	case http.MethodPost:
		a.createFutureTenure(w, r, hashID)
	case http.MethodPut:
		a.updateFutureTenure(w, r, hashID)
	case http.MethodDelete:
		a.deleteFutureTenure(w, r, hashID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete)
	}
}

func parseGoLive(raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, fmt.Errorf("will_go_live_at must be RFC 3339")
	}
	return &t, nil
}

func (a *API) createFutureTenure(w http.ResponseWriter, r *http.Request, hashID string) {
	if _, ok := a.requireAdmin(w, r, hashID, false); !ok {
		return
	}
	var req futureTenureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount == nil {
		writeError(w, r, http.StatusBadRequest, "amount is required")
		return
	}
	goLive, err := parseGoLive(req.WillGoLiveAt)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ft, err := a.svc.CreateFutureTenure(r.Context(), hashID, *req.Amount, goLive)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenure.pledge", map[string]any{
		"group": hashID, "amount": strconv.FormatInt(ft.Amount, 10),
	})
	writeJSON(w, http.StatusCreated, ft)
}

func (a *API) updateFutureTenure(w http.ResponseWriter, r *http.Request, hashID string) {
	if _, ok := a.requireAdmin(w, r, hashID, false); !ok {
		return
	}
	var req futureTenureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	goLive, err := parseGoLive(req.WillGoLiveAt)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ft, err := a.svc.UpdateFutureTenure(r.Context(), hashID, req.Amount, goLive)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenure.pledge.update", map[string]any{
		"group": hashID, "amount": strconv.FormatInt(ft.Amount, 10),
	})
	writeJSON(w, http.StatusOK, ft)
}

func (a *API) deleteFutureTenure(w http.ResponseWriter, r *http.Request, hashID string) {
	if _, ok := a.requireAdmin(w, r, hashID, false); !ok {
		return
	}
	if err := a.svc.DeleteFutureTenure(r.Context(), hashID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenure.pledge.delete", map[string]any{"group": hashID})
	w.WriteHeader(http.StatusNoContent)
}

// --- watches ---

func (a *API) watchGroup(w http.ResponseWriter, r *http.Request, hashID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	watch, err := a.svc.WatchGroup(r.Context(), hashID, userID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "watch.create", map[string]any{"group": hashID})
	writeJSON(w, http.StatusCreated, watch)
}

func (a *API) listWatches(w http.ResponseWriter, r *http.Request, hashID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireMember(w, r, hashID); !ok {
		return
	}
	watches, err := a.svc.ListWatches(r.Context(), hashID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items(watches))
}

// --- /v1/watches/{id} ---

func (a *API) handleWatchResource(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/watches/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "watch not found")
		return
	}
	userID, ok := principal(w, r)
	if !ok {
		return
	}

	watch, err := a.svc.GetWatch(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if watch.UserID != userID {
		handleDomainError(w, r, fmt.Errorf("%w: not your watch", tenure.ErrForbidden))
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, watch)
	case http.MethodPut:
		var req optInRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		updated, err := a.svc.SetOptIn(r.Context(), id, req.OptIn)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := a.svc.DeleteWatch(r.Context(), id); err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// --- live tenure reads ---

func (a *API) liveTenure(w http.ResponseWriter, r *http.Request, hashID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireMember(w, r, hashID); !ok {
		return
	}
	lt, err := a.svc.LiveTenureByGroup(r.Context(), hashID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lt)
}

func (a *API) subscriptions(w http.ResponseWriter, r *http.Request, hashID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireMember(w, r, hashID); !ok {
		return
	}
	subs, err := a.svc.Subscriptions(r.Context(), hashID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items(subs))
}

func (a *API) contributions(w http.ResponseWriter, r *http.Request, hashID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireMember(w, r, hashID); !ok {
		return
	}
	contribs, err := a.svc.Contributions(r.Context(), hashID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items(contribs))
}

func (a *API) history(w http.ResponseWriter, r *http.Request, hashID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireMember(w, r, hashID); !ok {
		return
	}
	tenures, err := a.svc.HistoricalTenures(r.Context(), hashID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items(tenures))
}
