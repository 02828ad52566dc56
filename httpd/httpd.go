// Package httpd exposes the find/save workflow over HTTP.
//
// Routes:
//
//	GET  /image/find?url=...&max_results=5&max_similarity=0.2
//	POST /image/save          {"request_id": "..."}
//	GET  /image/{name}        raw image bytes
//	GET  /stats               runtime counters
//
// The max_similarity parameter is kept for contract compatibility with
// earlier clients; it is the minimum acceptable similarity and results
// scoring below it are dropped.
package httpd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hupe1980/simigo"
	"github.com/hupe1980/simigo/imagestore"
)

// Options contains configuration options for the handler.
type Options struct {
	// Logger receives request failures.
	Logger *slog.Logger
}

// Handler routes the image similarity API. Create with New, mount as a
// http.Handler.
type Handler struct {
	finder *simigo.Finder
	images imagestore.Store
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a handler over the given finder and image store.
func New(finder *simigo.Finder, images imagestore.Store, optFns ...func(o *Options)) *Handler {
	opts := Options{
		Logger: slog.New(slog.DiscardHandler),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	h := &Handler{
		finder: finder,
		images: images,
		logger: opts.Logger,
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /image/find", h.handleFind)
	h.mux.HandleFunc("POST /image/save", h.handleSave)
	h.mux.HandleFunc("GET /image/{name}", h.handleImage)
	h.mux.HandleFunc("GET /stats", h.handleStats)

	return h
}

// ServeHTTP implements http.Handler with allow-all CORS.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleFind(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		h.writeError(w, http.StatusBadRequest, errorDetail{
			Error:   "Bad Request",
			Message: "The url query parameter is required.",
		})

		return
	}

	var findOpts []func(o *simigo.FindOptions)

	if v := r.URL.Query().Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, errorDetail{
				Error:   "Bad Request",
				Message: "max_results must be a positive integer.",
			})

			return
		}

		findOpts = append(findOpts, func(o *simigo.FindOptions) {
			o.MaxResults = n
		})
	}

	if v := r.URL.Query().Get("max_similarity"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errorDetail{
				Error:   "Bad Request",
				Message: "max_similarity must be a number.",
			})

			return
		}

		findOpts = append(findOpts, func(o *simigo.FindOptions) {
			o.MinSimilarity = threshold
		})
	}

	res, err := h.finder.Find(r.Context(), url, findOpts...)
	if err != nil {
		h.writeFindError(w, url, err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeFindError(w http.ResponseWriter, url string, err error) {
	switch {
	case errors.Is(err, simigo.ErrImageNotFound):
		h.writeError(w, http.StatusNotFound, errorDetail{
			Error:   "Not Found",
			Message: "The image could not be found in our database using the provided URL.",
		})
	case isBadInput(err):
		h.writeError(w, http.StatusBadRequest, errorDetail{
			Error:   err.Error(),
			Message: "Failed to process the image from the provided URL: " + err.Error() + ".",
		})
	default:
		h.logger.Error("find failed", "url", url, "error", err)
		h.writeError(w, http.StatusInternalServerError, errorDetail{
			Error:   "Internal Server Error",
			Message: "An unexpected error occurred while processing the request.",
		})
	}
}

// isBadInput reports whether the failure was caused by the client's
// url rather than by this service.
func isBadInput(err error) bool {
	var fe *simigo.ErrFetch
	if errors.As(err, &fe) {
		return true
	}

	var dm *simigo.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return true
	}

	return errors.Is(err, simigo.ErrExtraction)
}

type saveRequest struct {
	RequestID string `json:"request_id"`
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		h.writeError(w, http.StatusBadRequest, errorDetail{
			Error:   "Bad Request",
			Message: "The request body must be a JSON object with a request_id field.",
		})

		return
	}

	res, err := h.finder.Save(r.Context(), req.RequestID)
	if err != nil {
		h.writeSaveError(w, req.RequestID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeSaveError(w http.ResponseWriter, requestID string, err error) {
	var ee *simigo.ErrImageExists

	switch {
	case errors.Is(err, simigo.ErrRequestNotFound):
		h.writeError(w, http.StatusNotFound, errorDetail{
			Error:     "Not Found",
			Message:   "The request with ID " + requestID + " has either expired or could not be found.",
			RequestID: requestID,
		})
	case errors.As(err, &ee):
		h.writeError(w, http.StatusConflict, errorDetail{
			Error:   "Conflict: Image already exists.",
			Message: "The image has already been stored at the specified URL: " + ee.URL,
			URL:     ee.URL,
		})
	default:
		h.logger.Error("save failed", "request_id", requestID, "error", err)
		h.writeError(w, http.StatusInternalServerError, errorDetail{
			Error:   "Internal Server Error",
			Message: "An unexpected error occurred while saving the image.",
		})
	}
}

func (h *Handler) handleImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if !imagestore.IsImageName(name) {
		h.writeError(w, http.StatusNotFound, errorDetail{
			Error:   "Not Found",
			Message: "No such image.",
		})

		return
	}

	data, err := h.images.Read(r.Context(), name)
	if err != nil {
		if errors.Is(err, imagestore.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, errorDetail{
				Error:   "Not Found",
				Message: "No such image.",
			})

			return
		}

		h.logger.Error("image read failed", "name", name, "error", err)
		h.writeError(w, http.StatusInternalServerError, errorDetail{
			Error:   "Internal Server Error",
			Message: "The image could not be read.",
		})

		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.finder.Stats())
}

type errorDetail struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	URL       string `json:"url,omitempty"`
}

type errorBody struct {
	Detail errorDetail `json:"detail"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, detail errorDetail) {
	h.writeJSON(w, status, errorBody{Detail: detail})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encoding failed", "error", err)
	}
}
