package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/velto/linkpage/internal/analytics"
	"github.com/velto/linkpage/internal/attribution"
	"github.com/velto/linkpage/internal/config"
	"github.com/velto/linkpage/internal/database"
	"github.com/velto/linkpage/internal/entitlements"
	"github.com/velto/linkpage/internal/geo"
	"github.com/velto/linkpage/internal/links"
	"github.com/velto/linkpage/internal/metrics"
	"github.com/velto/linkpage/internal/middleware"
	"github.com/velto/linkpage/internal/models"
	"github.com/velto/linkpage/internal/storage"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps HTTP handlers and the attribution services.
type Server struct {
	users       storage.UserRepo
	linkService *links.Service
	recorder    *attribution.Recorder
	reader      *analytics.Reader
	logger      *zap.Logger
	config      *config.Config
	metrics     *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
// Missing backends degrade: no Postgres means the in-memory store, no Redis
// means no link cache, no ClickHouse means raw events land in the primary
// store.
func NewServer(deps *Dependencies) http.Handler {
	var store storage.Store
	if deps.DB != nil {
		store = storage.NewPostgresStore(deps.DB.Pool)
	} else {
		store = storage.NewMemoryStore()
	}

	var events storage.EventStore = store
	if deps.ClickHouse != nil {
		events = storage.NewClickHouseEventStore(deps.ClickHouse.Conn)
	}

	var cache storage.LinkCache
	if deps.Redis != nil && deps.Config.Cache.Enabled {
		cache = storage.NewRedisLinkCache(deps.Redis.Client, deps.Config.Cache.TTL)
	}

	var geoProvider geo.Provider
	if deps.Config.Geo.Enabled {
		p, err := geo.NewMaxMindProvider(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to initialize geo provider, clicks stay uncountried", zap.Error(err))
		} else {
			geoProvider = p
		}
	}

	recorder := attribution.NewRecorder(store, store, events, store, deps.Logger,
		attribution.RecorderOptions{
			Cache:   cache,
			Geo:     geoProvider,
			Metrics: deps.Metrics,
		})
	reader := analytics.NewReader(store, store, events, store, deps.Logger)
	linkService := links.NewService(store, store, store, cache, deps.Logger)

	s := &Server{
		users:       store,
		linkService: linkService,
		recorder:    recorder,
		reader:      reader,
		logger:      deps.Logger,
		config:      deps.Config,
		metrics:     deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Public visitor endpoints
	mux.HandleFunc("/r/", s.handleRedirect)
	mux.HandleFunc("/v/", s.handleProfileView)

	// Users
	mux.HandleFunc("/users", s.handleUsers)
	mux.HandleFunc("/users/", s.handleUserByID)

	// Link management
	mux.HandleFunc("/links", s.handleLinks)
	mux.HandleFunc("/links/", s.handleLinkSubtree)

	// Variants
	mux.HandleFunc("/variants/", s.handleVariantByID)

	// Analytics
	mux.HandleFunc("/analytics", s.handleAnalytics)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Redirect (click) ----

// handleRedirect is the activation endpoint. GET issues a 302 to the
// selected target; POST returns the target as JSON for client-side routers.
// Attribution failures never surface here; a resolvable link always
// redirects.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	linkID := strings.TrimPrefix(r.URL.Path, "/r/")
	if linkID == "" {
		s.errorResponse(w, "link id required", http.StatusBadRequest)
		return
	}

	meta := attribution.RequestMeta{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	}

	result, err := s.recorder.RecordClick(r.Context(), linkID, meta)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	if r.Method == http.MethodPost {
		s.jsonResponse(w, result)
		return
	}
	http.Redirect(w, r, result.URL, http.StatusFound)
}

// ---- Profile view ----

// handleProfileView records a page view for a profile, addressed by user ID
// or username, and returns the links to render. The view rollup write runs
// off the request path so a slow store cannot delay page render.
func (s *Server) handleProfileView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	handle := strings.TrimPrefix(r.URL.Path, "/v/")
	if handle == "" {
		s.errorResponse(w, "user required", http.StatusBadRequest)
		return
	}

	user, err := s.users.GetUser(r.Context(), handle)
	if errors.Is(err, storage.ErrNotFound) {
		user, err = s.users.GetUserByUsername(r.Context(), handle)
	}
	if err != nil {
		s.serviceError(w, err)
		return
	}

	list, err := s.linkService.ListLinks(r.Context(), user.ID)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	// Resolve A/B targets for active links so the page renders the same
	// title/URL the redirect will serve.
	rendered := make([]*attribution.ClickResult, 0, len(list))
	for _, link := range list {
		if !link.Active {
			continue
		}
		res, err := s.recorder.ResolveForView(r.Context(), link.ID)
		if err != nil {
			s.logger.Warn("failed to resolve link for view",
				zap.String("link_id", link.ID), zap.Error(err))
			continue
		}
		rendered = append(rendered, res)
	}

	go func() {
		// Detached from the request context so a fast page render does
		// not cancel the rollup write.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.recorder.RecordView(ctx, user.ID); err != nil {
			s.logger.Error("failed to record profile view",
				zap.String("user_id", user.ID), zap.Error(err))
		}
	}()

	s.jsonResponse(w, map[string]interface{}{
		"user":  user,
		"links": rendered,
	})
}

// ---- Users ----

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var u models.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if u.Username == "" {
		s.errorResponse(w, "username is required", http.StatusBadRequest)
		return
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Tier == "" {
		u.Tier = models.TierFree
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	if err := s.users.UpsertUser(r.Context(), &u); err != nil {
		s.logger.Error("failed to save user", zap.Error(err))
		s.errorResponse(w, "failed to save", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, u)
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/users/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	u, err := s.users.GetUser(r.Context(), id)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, u)
}

// ---- Links CRUD ----

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.errorResponse(w, "user_id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := s.linkService.ListLinks(r.Context(), userID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var in links.LinkInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		link, err := s.linkService.CreateLink(r.Context(), userID, in)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, link)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLinkSubtree routes /links/{id} plus its nested resources:
// /links/{id}/resolve, /links/{id}/variants, and /links/{id}/abtest.
func (s *Server) handleLinkSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/links/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	linkID, sub := rest, ""
	if idx := strings.IndexByte(rest, '/'); idx != -1 {
		linkID, sub = rest[:idx], rest[idx+1:]
	}

	switch sub {
	case "":
		s.handleLinkByID(w, r, linkID)
	case "resolve":
		s.handleLinkResolve(w, r, linkID)
	case "variants":
		s.handleLinkVariants(w, r, linkID)
	case "abtest":
		s.handleLinkABTest(w, r, linkID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleLinkByID(w http.ResponseWriter, r *http.Request, linkID string) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.errorResponse(w, "user_id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		link, err := s.linkService.GetLink(r.Context(), userID, linkID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, link)

	case http.MethodPut, http.MethodPatch:
		var in links.LinkInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		link, err := s.linkService.UpdateLink(r.Context(), userID, linkID, in)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, link)

	case http.MethodDelete:
		if err := s.linkService.DeleteLink(r.Context(), userID, linkID); err != nil {
			s.serviceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLinkResolve returns the render target for one link, counting an
// impression against the selected variant.
func (s *Server) handleLinkResolve(w http.ResponseWriter, r *http.Request, linkID string) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := s.recorder.ResolveForView(r.Context(), linkID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, result)
}

func (s *Server) handleLinkVariants(w http.ResponseWriter, r *http.Request, linkID string) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.errorResponse(w, "user_id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := s.linkService.ListVariants(r.Context(), userID, linkID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var in links.VariantInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		variant, err := s.linkService.CreateVariant(r.Context(), userID, linkID, in)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, variant)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLinkABTest(w http.ResponseWriter, r *http.Request, linkID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.errorResponse(w, "user_id required", http.StatusBadRequest)
		return
	}

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	link, err := s.linkService.SetABTesting(r.Context(), userID, linkID, body.Enabled)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, link)
}

// ---- Variants ----

// handleVariantByID routes /variants/{id} and /variants/{id}/stats.
func (s *Server) handleVariantByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/variants/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	variantID, sub := rest, ""
	if idx := strings.IndexByte(rest, '/'); idx != -1 {
		variantID, sub = rest[:idx], rest[idx+1:]
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.errorResponse(w, "user_id required", http.StatusBadRequest)
		return
	}

	if sub == "stats" {
		s.handleVariantStats(w, r, userID, variantID)
		return
	}
	if sub != "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		variant, err := s.linkService.GetVariant(r.Context(), userID, variantID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, variant)

	case http.MethodPut, http.MethodPatch:
		var in links.VariantInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		variant, err := s.linkService.UpdateVariant(r.Context(), userID, variantID, in)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, variant)

	case http.MethodDelete:
		if err := s.linkService.DeleteVariant(r.Context(), userID, variantID); err != nil {
			s.serviceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleVariantStats(w http.ResponseWriter, r *http.Request, userID, variantID string) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	variant, err := s.linkService.GetVariant(r.Context(), userID, variantID)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	stats, err := s.reader.VariantStats(r.Context(), variant.LinkID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, stats)
}

// ---- Analytics ----

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.errorResponse(w, "user_id required", http.StatusBadRequest)
		return
	}

	days := entitlements.DefaultWindowDays
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || parsed < 1 || parsed > entitlements.MaxWindowDays {
			s.errorResponse(w, "days must be between 1 and "+
				strconv.Itoa(entitlements.MaxWindowDays), http.StatusBadRequest)
			return
		}
		days = parsed
	}

	user, err := s.users.GetUser(r.Context(), userID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if days > entitlements.DefaultWindowDays && !entitlements.IsAdvancedAnalyticsAllowed(user.Tier) {
		s.serviceError(w, entitlements.NewEntitlementError(user.Tier,
			"analytics windows beyond %d days require a Pro or Business plan",
			entitlements.DefaultWindowDays))
		return
	}

	report, err := s.reader.GetAnalytics(r.Context(), userID, days)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, report)
}

// ---- Helper Methods ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// serviceError maps service-layer errors onto HTTP status codes.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	var entErr *entitlements.EntitlementError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.errorResponse(w, "not found", http.StatusNotFound)
	case errors.As(err, &entErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": entErr.Reason,
			"tier":  string(entErr.Tier),
		})
	case errors.Is(err, links.ErrInvalid):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
	}
}
