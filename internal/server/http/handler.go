// Package http is the thin host boundary: it decodes images from HTTP
// requests, delegates to the segmentation service, and encodes probability
// maps back. No classification logic lives here.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"net/http"

	"github.com/nfnt/resize"

	"github.com/celltools/unetpx/internal/pixel"
	"github.com/celltools/unetpx/internal/service"
	"github.com/celltools/unetpx/internal/unet"
)

// maxUploadBytes bounds multipart image uploads.
const maxUploadBytes = 32 << 20

// Service is the part of the segmentation service the handlers need.
type Service interface {
	Classify(ctx context.Context, img *pixel.Image) (*pixel.ClassMap, error)
}

type (
	// ClassifyRequestDTO is the request body for the Classify operation:
	// one single-channel image as a flat row-major array.
	ClassifyRequestDTO struct {
		Height int       `json:"height"`
		Width  int       `json:"width"`
		Pixels []float32 `json:"pixels"`
	}

	// ClassifyResponseDTO is the response body for both classify
	// operations. Probabilities holds three contiguous height×width planes
	// (background, nucleus, boundary).
	ClassifyResponseDTO struct {
		Module        string    `json:"module"`
		Revision      int       `json:"revision"`
		Height        int       `json:"height"`
		Width         int       `json:"width"`
		Channels      int       `json:"channels"`
		Probabilities []float32 `json:"probabilities"`
	}
)

// Handler handles HTTP requests for pixel classification.
type Handler struct {
	svc Service
}

// NewHandler creates a new Handler instance.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Register wires the handler's routes into mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /classify", h.Classify)
	mux.HandleFunc("POST /classify/image", h.ClassifyImage)
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Classify classifies a raw intensity array.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	img, err := pixel.NewImage(req.Height, req.Width, req.Pixels)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.respond(w, r, img, false)
}

// ClassifyImage classifies an uploaded PNG or JPEG. Query parameters:
// fit=1 downscales unaligned images to the nearest multiple-of-8 size,
// render=png returns the RGB composite instead of JSON.
func (h *Handler) ClassifyImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "no image file provided, use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	decoded, format, err := image.Decode(file)
	if err != nil {
		http.Error(w, "invalid image format, supported: PNG, JPEG", http.StatusBadRequest)
		return
	}

	slog.Debug("Received image upload",
		"filename", header.Filename, "format", format,
		"height", decoded.Bounds().Dy(), "width", decoded.Bounds().Dx())

	if r.URL.Query().Get("fit") == "1" {
		if decoded, err = fitToStride(decoded, 8); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	h.respond(w, r, pixel.FromImage(decoded), r.URL.Query().Get("render") == "png")
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, img *pixel.Image, renderPNG bool) {
	out, err := h.svc.Classify(r.Context(), img)
	switch {
	case err == nil:
	case errors.Is(err, pixel.ErrFlat), errors.Is(err, unet.ErrShape):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	default:
		slog.Error("Classification failed", "error", err)
		http.Error(w, "classification failed", http.StatusInternalServerError)
		return
	}

	if renderPNG {
		w.Header().Set("Content-Type", "image/png")
		if err := png.Encode(w, out.RGBA()); err != nil {
			slog.Error("Failed to encode composite", "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, ClassifyResponseDTO{
		Module:        service.ModuleName,
		Revision:      service.ModuleRevision,
		Height:        out.H,
		Width:         out.W,
		Channels:      int(pixel.NumChannels),
		Probabilities: out.Data,
	})
}

// fitToStride downscales an image so both dimensions are multiples of
// stride, preserving nothing but the stride contract (aspect ratio shifts
// by at most stride-1 pixels per axis).
func fitToStride(img image.Image, stride int) (image.Image, error) {
	h, w := img.Bounds().Dy(), img.Bounds().Dx()
	fh, fw := h-h%stride, w-w%stride
	if fh == 0 || fw == 0 {
		return nil, fmt.Errorf("image %dx%d is smaller than the minimum %dx%d", h, w, stride, stride)
	}

	if fh == h && fw == w {
		return img, nil
	}

	return resize.Resize(uint(fw), uint(fh), img, resize.Lanczos3), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
