package server

import (
	"image"
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"

	"github.com/smileynet/vizcache/internal/model"
)

type visualJSON struct {
	ID            string `json:"id"`
	ObjectID      string `json:"object_id"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Expandable    bool   `json:"expandable"`
	ExternalTitle bool   `json:"external_title"`
	ShowTooltips  bool   `json:"show_tooltips"`
	Kind          string `json:"kind,omitempty"` // "image" | "text", empty while unresolved
	Label         string `json:"label,omitempty"`
}

type pageJSON struct {
	ID       string       `json:"id"`
	Location string       `json:"location"`
	Label    string       `json:"label"`
	Percent  float64      `json:"percent"`
	Current  bool         `json:"current"`
	Visuals  []visualJSON `json:"visuals"`
}

func (s *Server) pageJSON(p *model.Page) pageJSON {
	out := pageJSON{
		ID:       p.ID.String(),
		Location: p.Location,
		Label:    p.Label(s.opts.GlobalLabel),
		Percent:  p.PercentComplete(),
		Current:  p.Location == s.store.CurrentLocation(),
		Visuals:  make([]visualJSON, 0, len(p.Visuals)),
	}
	for _, v := range p.Visuals {
		vj := visualJSON{
			ID:            v.ID.String(),
			ObjectID:      v.ObjectID,
			Width:         v.Width,
			Height:        v.Height,
			Expandable:    v.Expandable,
			ExternalTitle: v.ExternalTitle,
			ShowTooltips:  v.ShowTooltips,
			Label:         v.Label(),
		}
		switch {
		case v.Image() != nil:
			vj.Kind = "image"
		case v.Text() != nil:
			vj.Kind = "text"
		}
		out.Visuals = append(out.Visuals, vj)
	}
	return out
}

func (s *Server) listPages(c *gin.Context) {
	var pages []pageJSON
	if !s.onLoop(c, func() {
		for _, p := range s.store.Pages() {
			pages = append(pages, s.pageJSON(p))
		}
	}) {
		return
	}
	if pages == nil {
		pages = []pageJSON{}
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages, "count": len(pages)})
}

func (s *Server) getPage(c *gin.Context) {
	loc := c.Param("location")
	var (
		page  pageJSON
		found bool
	)
	if !s.onLoop(c, func() {
		if p, ok := s.store.PageForLocation(loc); ok {
			page, found = s.pageJSON(p), true
		}
	}) {
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "page not found", "location": loc})
		return
	}
	c.JSON(http.StatusOK, page)
}

// visual resolves the page visual named by the route, copying out whatever
// read needs while on the loop.
func (s *Server) visual(c *gin.Context, read func(v *model.Visual)) bool {
	loc, obj := c.Param("location"), c.Param("object")
	found := false
	if !s.onLoop(c, func() {
		p, ok := s.store.PageForLocation(loc)
		if !ok {
			return
		}
		v, ok := p.Visual(obj)
		if !ok {
			return
		}
		found = true
		read(v)
	}) {
		return false
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "visual not found", "location": loc, "object": obj})
		return false
	}
	return true
}

func (s *Server) getImage(c *gin.Context) {
	var img image.Image
	if !s.visual(c, func(v *model.Visual) { img = v.Image() }) {
		return
	}
	if img == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not available"})
		return
	}
	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := imaging.Encode(c.Writer, img, imaging.PNG); err != nil {
		s.logger.Warn("encoding image", "err", err)
	}
}

func (s *Server) getText(c *gin.Context) {
	var doc []byte
	if !s.visual(c, func(v *model.Visual) { doc = v.Text() }) {
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "text not available"})
		return
	}
	c.Data(http.StatusOK, "application/rtf", doc)
}

func (s *Server) getLabel(c *gin.Context) {
	var label string
	if !s.visual(c, func(v *model.Visual) { label = v.Label() }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"label": label})
}

func (s *Server) getLocations(c *gin.Context) {
	var user, available []string
	var current string
	if !s.onLoop(c, func() {
		user = s.store.UserLocations()
		available = s.store.AvailableLocations()
		current = s.store.CurrentLocation()
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": nonNil(user), "available": nonNil(available), "current": current})
}

type locationsRequest struct {
	Locations []string `json:"locations" binding:"required"`
}

func (s *Server) putLocations(c *gin.Context) {
	var req locationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	var user []string
	if !s.onLoop(c, func() {
		s.store.SetUserLocations(req.Locations)
		user = s.store.UserLocations()
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": nonNil(user)})
}

func (s *Server) deleteLocation(c *gin.Context) {
	loc := c.Param("location")
	if !s.onLoop(c, func() { s.store.RemoveLocation(loc) }) {
		return
	}
	c.Status(http.StatusNoContent)
}

type currentRequest struct {
	Location string `json:"location" binding:"required"`
}

func (s *Server) putCurrent(c *gin.Context) {
	var req currentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if !s.onLoop(c, func() { s.store.SetCurrentLocation(req.Location) }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"current": req.Location})
}

type invalidateRequest struct {
	// Location limits invalidation to one page. Empty invalidates everything.
	Location string `json:"location"`
}

func (s *Server) invalidate(c *gin.Context) {
	var req invalidateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}
	if !s.onLoop(c, func() {
		if req.Location == "" {
			s.store.Refresh()
			return
		}
		s.store.RefreshLocation(req.Location)
	}) {
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) update(c *gin.Context) {
	var started bool
	if !s.onLoop(c, func() {
		started = !s.store.IsUpdating()
		s.store.UpdateReport()
	}) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"started": started})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
