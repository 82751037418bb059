package web

import (
	"net/http"
	"time"

	appLog "photocal/internal/log"
	"photocal/internal/model"
	"photocal/internal/photos"
)

const maxUploadMemory = 32 << 20

type photoDTO struct {
	ID          string     `json:"id"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	FileName    string     `json:"fileName"`
	CreatedAt   time.Time  `json:"createdAt"`
	DateTaken   *time.Time `json:"dateTaken,omitempty"`
	CameraMake  string     `json:"cameraMake,omitempty"`
	CameraModel string     `json:"cameraModel,omitempty"`
	Status      string     `json:"status"`
}

func toPhotoDTO(p model.Photo) photoDTO {
	return photoDTO{
		ID:          p.ID,
		ImageURL:    p.ImageURL,
		FileName:    p.FileName,
		CreatedAt:   p.CreatedAt,
		DateTaken:   p.DateTaken,
		CameraMake:  p.CameraMake,
		CameraModel: p.CameraModel,
		Status:      string(p.Status),
	}
}

func toPhotoDTOs(ps []model.Photo) []photoDTO {
	out := make([]photoDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPhotoDTO(p))
	}
	return out
}

// batchResponse reports a multi-item operation. Failed lists the items
// that did not go through; the rest did.
type batchResponse struct {
	Photos []photoDTO `json:"photos,omitempty"`
	Failed []string   `json:"failed,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// handleListPhotos: GET /api/photos?order=asc|desc
func (s *Server) handleListPhotos(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Store.ListPhotos(r.Context(), model.ParseOrder(r.URL.Query().Get("order")))
	if err != nil {
		appLog.Error("web: list photos failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list photos")
		return
	}
	writeJSON(w, http.StatusOK, toPhotoDTOs(ps))
}

// handleUploadPhotos takes a multipart form with one or more "files".
func (s *Server) handleUploadPhotos(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files")
		return
	}

	files := make([]photos.File, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file "+h.Filename)
			return
		}
		defer f.Close()
		files = append(files, photos.File{Name: h.Filename, Data: f})
	}

	uploaded, err := s.deps.Photos.UploadMany(r.Context(), files)
	s.writeBatch(w, http.StatusCreated, uploaded, err)
}

func (s *Server) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Photos.Delete(r.Context(), r.PathValue("id"), confirmed(r)); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deletePhotosRequest struct {
	IDs []string `json:"ids"`
}

// handleDeletePhotos deletes a selection under one confirmation.
func (s *Server) handleDeletePhotos(w http.ResponseWriter, r *http.Request) {
	var req deletePhotosRequest
	if err := decodeJSON(w, r, &req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids are required")
		return
	}
	err := s.deps.Photos.DeleteMany(r.Context(), req.IDs, confirmed(r))
	s.writeBatch(w, http.StatusOK, nil, err)
}

func (s *Server) writeBatch(w http.ResponseWriter, okStatus int, done []model.Photo, err error) {
	if err == nil {
		writeJSON(w, okStatus, batchResponse{Photos: toPhotoDTOs(done)})
		return
	}
	b, ok := photos.AsBatch(err)
	if !ok {
		writeError(w, statusFor(err), err.Error())
		return
	}
	status := http.StatusMultiStatus
	if len(b.Failed) == b.Total {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, batchResponse{Photos: toPhotoDTOs(done), Failed: b.Items(), Error: b.Error()})
}

type processedRequest struct {
	StoragePath string `json:"storagePath"`
}

// handleProcessed is called by the image processing service once the
// display rendition is stored.
func (s *Server) handleProcessed(w http.ResponseWriter, r *http.Request) {
	var req processedRequest
	if err := decodeJSON(w, r, &req); err != nil || req.StoragePath == "" {
		writeError(w, http.StatusBadRequest, "storagePath is required")
		return
	}
	p, err := s.deps.Photos.MarkProcessed(r.Context(), r.PathValue("id"), req.StoragePath)
	if err != nil {
		appLog.Error("web: mark processed failed", err, "id", r.PathValue("id"))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toPhotoDTO(p))
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Photos.MarkFailed(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
