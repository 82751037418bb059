package web

import (
	"net/http"
	"net/url"

	"photocal/internal/display"
	"photocal/internal/model"
)

type layerDTO struct {
	PhotoID  string `json:"photoId,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type slideshowResponse struct {
	ActiveIndex int      `json:"activeIndex"`
	TopLayerIsA bool     `json:"topLayerIsA"`
	Count       int      `json:"count"`
	Running     bool     `json:"running"`
	A           layerDTO `json:"a"`
	B           layerDTO `json:"b"`
	// ImageURLs routes every photo through /img so the browser hits the
	// offline cache.
	ImageURLs []string `json:"imageUrls"`
}

// cachedURL points origin images at /img; other hosts are left alone.
func (s *Server) cachedURL(raw string) string {
	if s.deps.Cache == nil || raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || !s.deps.Cache.Matches(u) {
		return raw
	}
	return "/img?url=" + url.QueryEscape(raw)
}

func (s *Server) toLayer(p *model.Photo) layerDTO {
	if p == nil {
		return layerDTO{}
	}
	return layerDTO{PhotoID: p.ID, ImageURL: s.cachedURL(p.ImageURL)}
}

func (s *Server) cachedURLs(ps []model.Photo) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, s.cachedURL(p.ImageURL))
	}
	return out
}

// handleSlideshow returns the current rotation state and both cross-fade
// layers.
func (s *Server) handleSlideshow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil {
		writeError(w, http.StatusServiceUnavailable, "slideshow not ready")
		return
	}
	show := s.deps.Session.Slideshow()
	st := show.State()
	layers := show.Layers()
	writeJSON(w, http.StatusOK, slideshowResponse{
		ActiveIndex: st.ActiveIndex,
		TopLayerIsA: st.TopLayerIsA,
		Count:       show.Len(),
		Running:     show.Running(),
		A:           s.toLayer(layers.A),
		B:           s.toLayer(layers.B),
		ImageURLs:   s.cachedURLs(show.Photos()),
	})
}

type overlayDTO struct {
	Overlay        display.Overlay `json:"overlay"`
	ShowMenuButton bool            `json:"showMenuButton"`
}

func (s *Server) handleGetOverlay(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Session == nil {
		writeError(w, http.StatusServiceUnavailable, "display not ready")
		return
	}
	writeJSON(w, http.StatusOK, overlayDTO{Overlay: s.deps.Session.Overlay(), ShowMenuButton: s.deps.Session.ShowMenuButton()})
}

func (s *Server) handleSetOverlay(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil {
		writeError(w, http.StatusServiceUnavailable, "display not ready")
		return
	}
	var req struct {
		Overlay string `json:"overlay"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	o, err := display.ParseOverlay(req.Overlay)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	got := s.deps.Session.SetOverlay(o)
	writeJSON(w, http.StatusOK, overlayDTO{Overlay: got, ShowMenuButton: got == display.OverlayNone})
}
