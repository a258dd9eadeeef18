package port

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/sica/pkg/wire"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpAddress = flag.String("http_address", ":4444",
		"The ip:port of the HTTP surface. If empty, the HTTP surface is disabled.")
	httpPrefix = flag.String("http_prefix", "", "Path prefix of every HTTP route, e.g. /cache.")
)

const shutdownTimeout = 5 * time.Second

// NewHTTPHandler routes the HTTP surface onto `dispatcher`. Every route under {prefix}/api answers with a JSON
// wire.Response; {prefix}/metrics serves the Prometheus metrics.
func NewHTTPHandler(dispatcher *Dispatcher, prefix string, maxBodyBytes int64) http.Handler {
	prefix = strings.TrimSuffix(prefix, "/")
	h := &httpHandler{dispatcher: dispatcher, maxBodyBytes: maxBodyBytes}

	api := http.NewServeMux()
	api.HandleFunc("POST "+prefix+"/api/add", h.add)
	api.HandleFunc("GET "+prefix+"/api/get/{key...}", h.get)
	api.HandleFunc("DELETE "+prefix+"/api/remove/{key...}", h.remove)
	api.HandleFunc("GET "+prefix+"/api/reset/{key...}", h.reset)
	api.HandleFunc("PUT "+prefix+"/api/reset/{key...}", h.reset)
	api.HandleFunc("OPTIONS "+prefix+"/api/", h.options)

	mux := http.NewServeMux()
	mux.Handle(prefix+"/api/", withCORS(api))
	mux.Handle("GET "+prefix+"/metrics", promhttp.Handler())
	return mux
}

type httpHandler struct {
	dispatcher   *Dispatcher
	maxBodyBytes int64
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
		header.Set("Access-Control-Expose-Headers", "ETag")
		next.ServeHTTP(w, r)
	})
}

func (h *httpHandler) options(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, true)
}

func (h *httpHandler) add(w http.ResponseWriter, r *http.Request) {
	var req wire.Request
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, wire.Failure("Unable to decode request body: %v.", err))
		return
	}
	req.Operation = wire.OpAdd
	h.dispatch(w, r, req)
}

func (h *httpHandler) get(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := wire.Request{
		Operation: wire.OpGet,
		Key:       r.PathValue("key"),
		TypeTag:   query.Get("type_tag"),
		UserID:    query.Get("user_id"),
		TTL:       queryTTL(query.Get("ttl")),
	}
	if rawReset := query.Get("reset_ttl"); rawReset != "" {
		resetTTL, err := strconv.ParseBool(rawReset)
		if err != nil {
			writeJSON(w, r, http.StatusBadRequest, wire.Failure("Invalid reset_ttl %q.", rawReset))
			return
		}
		req.ResetTTL = resetTTL
	}
	h.dispatch(w, r, req)
}

func (h *httpHandler) remove(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, wire.Request{Operation: wire.OpRemove, Key: r.PathValue("key"), UserID: r.URL.Query().Get("user_id")})
}

func (h *httpHandler) reset(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	h.dispatch(w, r, wire.Request{
		Operation: wire.OpReset,
		Key:       r.PathValue("key"),
		UserID:    query.Get("user_id"),
		TTL:       queryTTL(query.Get("ttl")),
	})
}

func (h *httpHandler) dispatch(w http.ResponseWriter, r *http.Request, req wire.Request) {
	resp := h.dispatcher.Dispatch(req)
	slog.Debug("Served HTTP request.", "method", r.Method, "path", r.URL.Path, "success", resp.Success)
	writeJSON(w, r, http.StatusOK, resp)
}

// queryTTL keeps an absent ttl parameter absent, so the store default applies.
func queryTTL(raw string) any {
	if raw == "" {
		return nil
	}
	return raw
}

// writeJSON writes `value` with an ETag of its body. Requests already holding that ETag get a 304 without body.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, value any) {
	body, err := json.Marshal(value)
	if err != nil {
		slog.Error("Unable to encode HTTP response.", "path", r.URL.Path, "error", err)
		http.Error(w, `{"success":false,"message":"Unable to encode response."}`, http.StatusInternalServerError)
		return
	}
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	w.Header().Set("ETag", etag)
	if status == http.StatusOK && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Debug("Unable to write HTTP response.", "path", r.URL.Path, "error", err)
	}
}

// RunHTTPServer serves the HTTP surface configured by the command line flags until `ctx` is done.
func RunHTTPServer(ctx context.Context, dispatcher *Dispatcher) error {
	if *httpAddress == "" {
		slog.Info("HTTP surface is disabled.")
		return nil
	}
	if dispatcher == nil {
		return errors.New("expected a non-nil dispatcher")
	}

	maxBodyBytes := int64(wire.FrameOptionsFromFlags(0).MaxFrameBytes)
	server := &http.Server{
		Addr:              *httpAddress,
		Handler:           NewHTTPHandler(dispatcher, *httpPrefix, maxBodyBytes),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrSignal := make(chan error, 1)
	go func() {
		slog.Info("Listening on HTTP surface.", "address", *httpAddress, "prefix", *httpPrefix)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down HTTP surface: %w", err)
		}
		slog.Info("HTTP surface stopped.")
	case err, ok := <-serverErrSignal:
		if ok {
			return fmt.Errorf("HTTP surface stopped unexpectedly: %w", err)
		}
	}
	return nil
}
