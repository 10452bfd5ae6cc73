package httpserver

import (
    "context"
    "encoding/json"
    "errors"
    "io"
    "mime"
    "net/http"
    "strconv"
    "strings"

    "github.com/go-chi/chi/v5"
    chimw "github.com/go-chi/chi/v5/middleware"
    "github.com/go-chi/cors"
    "go.uber.org/zap"

    appanalysis "github.com/bryanwahyu/docguard/internal/application/analysis"
    domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
    "github.com/bryanwahyu/docguard/internal/middleware"
)

// Analyzer is the application surface the HTTP layer drives.
type Analyzer interface {
    Analyze(ctx context.Context, req domain.Request) (*appanalysis.Result, error)
    Get(ctx context.Context, fp domain.Fingerprint) (*domain.Record, error)
    List(ctx context.Context, limit, offset int) ([]*domain.Record, error)
    ListFailures(ctx context.Context, fp domain.Fingerprint, limit int) ([]*domain.StageFailure, error)
}

// Options for NewRouter. Only Service is required.
type Options struct {
    Service        Analyzer
    Logger         *zap.Logger
    Metrics        *middleware.Metrics
    HealthCheckers map[string]middleware.HealthChecker
    APIKeys        map[string]string
    RateLimiter    *middleware.RateLimiter
    AllowedOrigins []string
    MaxUploadBytes int64
}

type Router struct {
    svc       Analyzer
    log       *zap.Logger
    metrics   *middleware.Metrics
    maxUpload int64
}

const defaultMaxUpload = 50 << 20

func NewRouter(o Options) http.Handler {
    r := &Router{svc: o.Service, log: o.Logger, metrics: o.Metrics, maxUpload: o.MaxUploadBytes}
    if r.log == nil {
        r.log = zap.NewNop()
    }
    if r.metrics == nil {
        r.metrics = middleware.NewMetrics()
    }
    if r.maxUpload <= 0 {
        r.maxUpload = defaultMaxUpload
    }
    origins := o.AllowedOrigins
    if len(origins) == 0 {
        origins = []string{"*"}
    }

    mux := chi.NewRouter()
    mux.Use(chimw.RequestID)
    mux.Use(chimw.RealIP)
    mux.Use(chimw.Recoverer)
    mux.Use(cors.Handler(cors.Options{
        AllowedOrigins: origins,
        AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
        AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
        MaxAge:         300,
    }))
    mux.Use(middleware.Logging(r.log))
    mux.Use(r.metrics.Middleware)
    mux.Use(middleware.APIKeyAuth(o.APIKeys))
    if o.RateLimiter != nil {
        mux.Use(middleware.RateLimit(o.RateLimiter))
    }

    mux.Get("/health", middleware.HealthHandler(o.HealthCheckers))
    mux.Get("/ready", middleware.ReadinessHandler)
    mux.Get("/live", middleware.LivenessHandler)
    mux.Get("/metrics", r.metrics.Handler)

    mux.Post("/analyze", r.wrap(r.handleAnalyze))
    mux.Get("/results", r.wrap(r.handleList))
    mux.Get("/results/{fingerprint}", r.wrap(r.handleGet))
    mux.Get("/results/{fingerprint}/failures", r.wrap(r.handleFailures))

    return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// errTooLarge is returned when the upload exceeds the configured cap
var errTooLarge = errors.New("document too large")

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
    return func(w http.ResponseWriter, req *http.Request) {
        err := h(w, req)
        if err == nil {
            return
        }

        var inputErr *domain.InputError
        var downErr *domain.DownstreamError
        switch {
        case errors.As(err, &inputErr):
            writeJSON(w, http.StatusBadRequest, map[string]string{"error": inputErr.Msg})
        case errors.Is(err, errTooLarge):
            writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Document too large"})
        case errors.As(err, &downErr):
            writeJSON(w, http.StatusBadGateway, map[string]string{
                "error": string(downErr.Stage) + " stage failed",
                "stage": string(downErr.Stage),
            })
        case errors.Is(err, domain.ErrNotFound):
            writeJSON(w, http.StatusNotFound, map[string]string{"error": "Result not found"})
        case errors.Is(err, context.Canceled):
            // client pergi, tidak ada yang bisa dibalas
            r.log.Debug("request cancelled", zap.String("path", req.URL.Path))
        default:
            r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
            writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
        }
    }
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    return json.NewEncoder(w).Encode(v)
}

// POST /analyze
// multipart field "file", or JSON body {"url": "..."}
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
    in, err := r.readRequest(w, req)
    if err != nil {
        return err
    }

    r.metrics.AnalysisStarted()
    res, err := r.svc.Analyze(req.Context(), in)
    r.metrics.AnalysisFinished(res != nil && res.Cached, err)
    if err != nil {
        return err
    }

    view := appanalysis.ToExternalView(res.Record, res.Cached)
    r.log.Info("analysis served",
        zap.String("analysis_id", view.AnalysisID),
        zap.String("fingerprint", view.Fingerprint),
        zap.Bool("cached", view.Cached),
        zap.String("risk_score", view.RiskScore),
    )
    return writeJSON(w, http.StatusOK, view)
}

func (r *Router) readRequest(w http.ResponseWriter, req *http.Request) (domain.Request, error) {
    req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload)
    mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))

    switch mediaType {
    case "multipart/form-data":
        if err := req.ParseMultipartForm(32 << 20); err != nil {
            return domain.Request{}, bodyError(err, "Malformed multipart body")
        }
        file, hdr, err := req.FormFile("file")
        switch {
        case err == nil:
            defer file.Close()
            b, err := io.ReadAll(file)
            if err != nil {
                return domain.Request{}, bodyError(err, "Failed to read upload")
            }
            return domain.Request{Content: b, Filename: middleware.SanitizeString(hdr.Filename)}, nil
        case errors.Is(err, http.ErrMissingFile):
            return urlRequest(req.FormValue("url"))
        default:
            return domain.Request{}, bodyError(err, "Malformed multipart body")
        }

    case "application/json":
        var body struct {
            URL string `json:"url"`
        }
        if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
            return domain.Request{}, bodyError(err, "Malformed JSON body")
        }
        return urlRequest(body.URL)
    }
    return domain.Request{}, nil
}

// urlRequest validates the locator before anything is downloaded
func urlRequest(raw string) (domain.Request, error) {
    raw = strings.TrimSpace(raw)
    if raw == "" {
        return domain.Request{}, nil
    }
    if err := middleware.ValidateURL(raw); err != nil {
        return domain.Request{}, &domain.InputError{Msg: "Invalid URL: " + err.Error(), Err: err}
    }
    return domain.Request{URL: raw}, nil
}

func bodyError(err error, msg string) error {
    var mbe *http.MaxBytesError
    if errors.As(err, &mbe) {
        return errTooLarge
    }
    return &domain.InputError{Msg: msg, Err: err}
}

// GET /results/{fingerprint}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
    fp, err := fingerprintParam(req)
    if err != nil {
        return err
    }
    rec, err := r.svc.Get(req.Context(), fp)
    if err != nil {
        return err
    }
    return writeJSON(w, http.StatusOK, appanalysis.ToExternalView(rec, true))
}

// GET /results?limit=&offset=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
    limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
    offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
    limit = middleware.ValidateLimit(limit)
    offset = middleware.ValidateOffset(offset)

    list, err := r.svc.List(req.Context(), limit, offset)
    if err != nil {
        return err
    }
    return writeJSON(w, http.StatusOK, map[string]any{
        "results": appanalysis.ToExternalViews(list),
        "limit":   limit,
        "offset":  offset,
    })
}

// GET /results/{fingerprint}/failures?limit=
func (r *Router) handleFailures(w http.ResponseWriter, req *http.Request) error {
    fp, err := fingerprintParam(req)
    if err != nil {
        return err
    }
    limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
    list, err := r.svc.ListFailures(req.Context(), fp, middleware.ValidateLimit(limit))
    if err != nil {
        return err
    }
    if list == nil {
        list = []*domain.StageFailure{}
    }
    return writeJSON(w, http.StatusOK, map[string]any{"failures": list})
}

func fingerprintParam(req *http.Request) (domain.Fingerprint, error) {
    fp := strings.ToLower(chi.URLParam(req, "fingerprint"))
    if err := middleware.ValidateFingerprint(fp); err != nil {
        return "", &domain.InputError{Msg: "Invalid fingerprint", Err: err}
    }
    return domain.Fingerprint(fp), nil
}
