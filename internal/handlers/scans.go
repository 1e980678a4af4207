package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/auth"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/httpx"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

const multipartOverhead = 64 * 1024

// ScanHandlers accepts Pro image scans.
type ScanHandlers struct {
	authn    *auth.Authenticator
	scans    services.ScanService
	maxBytes int64
}

// NewScanHandlers constructs the scan handlers. maxBytes bounds the uploaded image.
func NewScanHandlers(authn *auth.Authenticator, scans services.ScanService, maxBytes int64) *ScanHandlers {
	if maxBytes <= 0 {
		maxBytes = services.DefaultMaxScanBytes
	}
	return &ScanHandlers{authn: authn, scans: scans, maxBytes: maxBytes}
}

// Routes registers POST /scans.
func (h *ScanHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Post("/", h.scan)
}

type scanResponse struct {
	Mode          string                    `json:"mode"`
	CodeKind      string                    `json:"codeKind,omitempty"`
	VIN           string                    `json:"vin,omitempty"`
	Vehicle       *domain.IdentifiedVehicle `json:"vehicle,omitempty"`
	Query         string                    `json:"query"`
	SearchID      string                    `json:"searchId"`
	TowingInfo    domain.TowingInfo         `json:"towingInfo"`
	ArchivedImage string                    `json:"archivedImage,omitempty"`
}

func (h *ScanHandlers) scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.scans == nil {
		httpx.WriteError(ctx, w, httpx.NewError("scan_service_unavailable", "scan service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	// Membership is checked before the upload is buffered.
	if err := h.scans.Authorize(ctx, identity.UID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "image exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "multipart form with an image field is required", http.StatusBadRequest))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	mode, err := services.ParseScanMode(r.FormValue("mode"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "image is required", http.StatusBadRequest))
		return
	}
	defer file.Close()
	if header.Size > h.maxBytes {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "image exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read image", http.StatusBadRequest))
		return
	}
	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}
	img := towing.Image{Data: data, MIMEType: mimeType}
	if !strings.HasPrefix(img.ContentType(), "image/") {
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_media_type", "upload must be an image", http.StatusUnsupportedMediaType))
		return
	}

	result, err := h.scans.Scan(ctx, services.ScanCommand{UserUID: identity.UID, Mode: mode, Image: img})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if result.SearchID != "" {
		w.Header().Set(SearchIDHeader, result.SearchID)
	}
	httpx.WriteJSON(w, http.StatusOK, scanResponse{
		Mode:          string(result.Mode),
		CodeKind:      string(result.CodeKind),
		VIN:           result.VIN,
		Vehicle:       result.Vehicle,
		Query:         result.Query,
		SearchID:      result.SearchID,
		TowingInfo:    result.Info,
		ArchivedImage: result.ArchivedImage,
	})
}
