package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.io/infrasutra/emaillog/internal/app"
	"github.io/infrasutra/emaillog/internal/auth"
	"github.io/infrasutra/emaillog/internal/config"
	"github.io/infrasutra/emaillog/internal/headers"
	"github.io/infrasutra/emaillog/internal/pagination"
	"github.io/infrasutra/emaillog/internal/query"
	"github.io/infrasutra/emaillog/internal/site"
	"github.io/infrasutra/emaillog/internal/store"
)

const (
	noticeError   = "error"
	noticeUpdated = "updated"

	deleteFailedMessage  = "There was some problem in deleting the email logs"
	requestFailedMessage = "Something went wrong. Please try again."
)

type Server struct {
	cfg    config.Config
	core   *app.Core
	auth   *auth.Manager
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewServer(cfg config.Config, core *app.Core, authManager *auth.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	server := &Server{
		cfg:    cfg,
		core:   core,
		auth:   authManager,
		logger: logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", server.handleLogin)
	mux.HandleFunc("/api/logout", server.handleLogout)
	mux.HandleFunc("/api/me", server.handleMe)
	mux.HandleFunc("/api/logs", server.handleLogs)
	mux.HandleFunc("/api/logs/", server.handleLog)
	mux.HandleFunc("/api/stream", server.handleStream)
	mux.HandleFunc("/api/sites", server.handleSites)
	mux.HandleFunc("/api/sites/", server.handleSite)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch path := r.URL.Path; {
	case strings.HasPrefix(path, "/api/"):
		s.mux.ServeHTTP(w, r)
	case path == "/health":
		s.handleHealth(w, r)
	case path == "/ready":
		s.handleReady(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	email, err := auth.NormalizeEmail(payload.Email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	now := time.Now()
	userID, err := s.core.Store.UpsertUser(r.Context(), email, now)
	if err != nil {
		s.logger.Error("save user", "error", err)
		http.Error(w, "unable to save user", http.StatusInternalServerError)
		return
	}
	token, err := s.auth.Issue(auth.Session{UserID: userID, Email: email}, now)
	if err != nil {
		http.Error(w, "unable to create session", http.StatusInternalServerError)
		return
	}
	s.setSessionCookie(w, token, now)
	s.respondJSON(w, http.StatusOK, userResponse{ID: userID, Email: email})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	session, err := s.session(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.respondJSON(w, http.StatusOK, userResponse{ID: session.UserID, Email: session.Email})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	session, err := s.session(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	siteID, ok := s.resolveSite(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	params := pagination.GetPaginationParams(q, pagination.WithDefaultPerPage(s.cfg.PerPage))
	starred, err := s.core.Stars(siteID).GetStarred(r.Context(), session.UserID)
	if err != nil {
		s.failRequest(w, "load starred logs", err)
		return
	}
	page, err := s.core.Facade(siteID).GetPage(r.Context(), query.Request{
		View:    query.ParseView(q.Get("view")),
		Search:  strings.TrimSpace(q.Get("s")),
		Date:    strings.TrimSpace(q.Get("d")),
		OrderBy: params.OrderBy,
		Order:   params.Order,
		Page:    params.Page,
		PerPage: params.PerPage,
	}, starred)
	if err != nil {
		s.failRequest(w, "list logs", err)
		return
	}

	starredSet := make(map[int64]struct{}, len(starred))
	for _, id := range starred {
		starredSet[id] = struct{}{}
	}
	response := logsResponse{
		Items:      make([]logSummary, 0, len(page.Items)),
		Total:      page.Total,
		Page:       page.Page,
		PerPage:    page.PerPage,
		TotalPages: page.TotalPages,
		HasNext:    pagination.GetHasNext((page.Page-1)*page.PerPage, page.PerPage, page.Total),
		Counts: viewCounts{
			All:     page.TotalAll,
			Starred: page.TotalStarred,
			Sent:    page.TotalSent,
			Failed:  page.TotalFailed,
		},
	}
	for _, rec := range page.Items {
		_, isStarred := starredSet[rec.ID]
		response.Items = append(response.Items, toSummary(rec, isStarred))
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	session, err := s.session(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/logs/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 {
		switch parts[0] {
		case "delete":
			s.requirePost(w, r, func(siteID int64) { s.handleDelete(w, r, siteID) })
			return
		case "delete-all":
			s.requirePost(w, r, func(siteID int64) { s.handleDeleteAll(w, r, siteID) })
			return
		}
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid log id", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		siteID, ok := s.resolveSite(w, r)
		if !ok {
			return
		}
		s.handleLogDetail(w, r, session, siteID, id)
	case len(parts) == 2 && parts[1] == "star":
		s.requirePost(w, r, func(siteID int64) { s.handleStar(w, r, session, siteID, id) })
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleLogDetail(w http.ResponseWriter, r *http.Request, session auth.Session, siteID, id int64) {
	records, err := s.core.Logs.Table(siteID).FetchByIDs(r.Context(), []int64{id})
	if err != nil {
		s.failRequest(w, "load log", err)
		return
	}
	if len(records) == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	starred, err := s.core.Stars(siteID).GetStarred(r.Context(), session.UserID)
	if err != nil {
		s.failRequest(w, "load starred logs", err)
		return
	}
	isStarred := false
	for _, starredID := range starred {
		if starredID == id {
			isStarred = true
			break
		}
	}
	rec := records[0]
	s.respondJSON(w, http.StatusOK, logDetail{
		logSummary:    toSummary(rec, isStarred),
		Message:       rec.Message,
		Headers:       rec.Headers,
		ParsedHeaders: headers.Parse(rec.Headers),
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, siteID int64) {
	var payload struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	deleted, err := s.core.Logs.Table(siteID).DeleteByIDs(r.Context(), payload.IDs)
	if err != nil {
		s.logger.Error("delete logs", "site", siteID, "error", err)
		s.respondNotice(w, http.StatusInternalServerError, noticeError, deleteFailedMessage)
		return
	}
	s.respondDeleted(w, deleted)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request, siteID int64) {
	deleted, err := s.core.Logs.Table(siteID).DeleteAll(r.Context())
	if err != nil {
		s.logger.Error("delete all logs", "site", siteID, "error", err)
		s.respondNotice(w, http.StatusInternalServerError, noticeError, deleteFailedMessage)
		return
	}
	s.respondDeleted(w, deleted)
}

func (s *Server) respondDeleted(w http.ResponseWriter, deleted int64) {
	if deleted <= 0 {
		s.respondNotice(w, http.StatusOK, noticeError, deleteFailedMessage)
		return
	}
	s.respondNotice(w, http.StatusOK, noticeUpdated, deletedMessage(deleted))
}

func deletedMessage(n int64) string {
	if n == 1 {
		return "1 email log deleted."
	}
	return fmt.Sprintf("%d email logs deleted.", n)
}

func (s *Server) handleStar(w http.ResponseWriter, r *http.Request, session auth.Session, siteID, id int64) {
	var payload struct {
		Starred *bool `json:"starred"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Starred == nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if _, err := s.core.Stars(siteID).SetStar(r.Context(), session.UserID, id, *payload.Starred); err != nil {
		s.failRequest(w, "star log", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"id": id, "starred": *payload.Starred})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.session(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	siteID, ok := s.resolveSite(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.core.Hub.Subscribe(siteID)
	defer unsubscribe()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	if _, err := s.session(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		sites, err := s.core.Sites.List(r.Context())
		if err != nil {
			s.failRequest(w, "list sites", err)
			return
		}
		response := make([]siteResponse, 0, len(sites))
		for _, entry := range sites {
			response = append(response, toSiteResponse(entry))
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"sites": response})
	case http.MethodPost:
		var payload struct {
			Domain string `json:"domain"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(payload.Domain) == "" {
			http.Error(w, "domain is required", http.StatusBadRequest)
			return
		}
		created, err := s.core.Sites.Create(r.Context(), payload.Domain)
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "domain already exists", http.StatusConflict)
			return
		}
		if err != nil {
			s.failRequest(w, "create site", err)
			return
		}
		s.respondJSON(w, http.StatusCreated, toSiteResponse(created))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	if _, err := s.session(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/sites/"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid site id", http.StatusBadRequest)
		return
	}
	switch err := s.core.Sites.Remove(r.Context(), id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, site.ErrMainSite):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		s.failRequest(w, "remove site", err)
	}
}

// resolveSite reads the site query parameter, defaulting to the main site.
// It writes the error response and returns false when the site is unknown.
func (s *Server) resolveSite(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("site"))
	if raw == "" {
		return store.MainSiteID, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid site", http.StatusBadRequest)
		return 0, false
	}
	if _, err := s.core.Sites.Get(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "site not found", http.StatusNotFound)
			return 0, false
		}
		s.failRequest(w, "load site", err)
		return 0, false
	}
	return id, true
}

func (s *Server) requirePost(w http.ResponseWriter, r *http.Request, next func(siteID int64)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	siteID, ok := s.resolveSite(w, r)
	if !ok {
		return
	}
	next(siteID)
}

func (s *Server) failRequest(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Error(op, "error", err)
	s.respondNotice(w, http.StatusInternalServerError, noticeError, requestFailedMessage)
}

func (s *Server) session(r *http.Request) (auth.Session, error) {
	cookie, err := r.Cookie(s.auth.CookieName())
	if err != nil {
		return auth.Session{}, auth.ErrMissingToken
	}
	return s.auth.Parse(cookie.Value, time.Now())
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, now time.Time) {
	maxAge := int(s.auth.MaxAge().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  now.Add(s.auth.MaxAge()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondNotice(w http.ResponseWriter, status int, kind, message string) {
	s.respondJSON(w, status, noticeResponse{Notice: notice{Type: kind, Message: message}})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Store.Ping(r.Context()); err != nil {
		s.respondText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

type userResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type notice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type noticeResponse struct {
	Notice notice `json:"notice"`
}

type viewCounts struct {
	All     int `json:"all"`
	Starred int `json:"starred"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

type logsResponse struct {
	Items      []logSummary `json:"items"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	PerPage    int          `json:"perPage"`
	TotalPages int          `json:"totalPages"`
	HasNext    bool         `json:"hasNext"`
	Counts     viewCounts   `json:"counts"`
}

type logSummary struct {
	ID             int64  `json:"id"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	SentDate       string `json:"sentDate"`
	HasAttachments bool   `json:"hasAttachments"`
	Result         string `json:"result"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	Starred        bool   `json:"starred"`
}

type logDetail struct {
	logSummary
	Message       string            `json:"message"`
	Headers       string            `json:"headers"`
	ParsedHeaders map[string]string `json:"parsedHeaders"`
}

type siteResponse struct {
	ID        int64  `json:"id"`
	Domain    string `json:"domain"`
	CreatedAt string `json:"createdAt"`
}

func toSummary(rec store.LogRecord, starred bool) logSummary {
	return logSummary{
		ID:             rec.ID,
		To:             rec.ToEmail,
		Subject:        rec.Subject,
		SentDate:       rec.SentDate.Format(store.SentDateLayout),
		HasAttachments: rec.Attachments,
		Result:         rec.Result.String(),
		ErrorMessage:   rec.ErrorMessage,
		Starred:        starred,
	}
}

func toSiteResponse(s store.Site) siteResponse {
	return siteResponse{
		ID:        s.ID,
		Domain:    s.Domain,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
	}
}
