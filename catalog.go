package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

// Element is a placeable object definition. Static elements block occupancy
// of every cell they cover.
type Element struct {
	ID       string `json:"id"`
	ImageURL string `json:"imageUrl"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Static   bool   `json:"static"`
}

type Avatar struct {
	ID       string `json:"id"`
	ImageURL string `json:"imageUrl"`
	Name     string `json:"name"`
}

type Placement struct {
	ElementID string `json:"elementId"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}

// MapDef is a reusable space template: dimensions plus default elements.
type MapDef struct {
	ID              string
	Name            string
	Thumbnail       string
	Width           int
	Height          int
	DefaultElements []Placement
}

// PlacedElement is one element instance inside a space.
type PlacedElement struct {
	ID        string `json:"id"`
	ElementID string `json:"elementId"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}

type spaceRecord struct {
	ID        string
	Name      string
	CreatorID string
	Width     int
	Height    int
	Elements  []PlacedElement
}

// Catalog owns element/avatar/map definitions and space records. The arena
// reads from it exactly once per room creation, via GetSpace; everything else
// here is the admin/dashboard surface.
type Catalog struct {
	mu       sync.RWMutex
	elements map[string]*Element
	avatars  map[string]*Avatar
	maps     map[string]*MapDef
	spaces   map[string]*spaceRecord
}

func newCatalog() *Catalog {
	return &Catalog{
		elements: make(map[string]*Element),
		avatars:  make(map[string]*Avatar),
		maps:     make(map[string]*MapDef),
		spaces:   make(map[string]*spaceRecord),
	}
}

// parseDimensions parses "WxH" into positive width and height.
func parseDimensions(s string) (int, int, error) {
	w, h, found := strings.Cut(s, "x")
	if !found {
		return 0, 0, fmt.Errorf("dimensions must be WxH, got %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width < 1 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height < 1 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	return width, height, nil
}

// GetSpace resolves a space identifier to an immutable geometry snapshot for
// room creation. Static elements mark every covered cell blocked.
func (c *Catalog) GetSpace(spaceID string) (*Space, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.spaces[spaceID]
	if !ok {
		return nil, ErrSpaceNotFound
	}

	space := &Space{
		ID:     rec.ID,
		Width:  rec.Width,
		Height: rec.Height,
		static: make(map[Position]struct{}),
	}
	for _, placed := range rec.Elements {
		def, ok := c.elements[placed.ElementID]
		if !ok || !def.Static {
			continue
		}
		for dy := 0; dy < def.Height; dy++ {
			for dx := 0; dx < def.Width; dx++ {
				space.static[Position{X: placed.X + dx, Y: placed.Y + dy}] = struct{}{}
			}
		}
	}
	return space, nil
}

func (c *Catalog) HasAvatar(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.avatars[id]
	return ok
}

func (c *Catalog) Avatar(id string) (*Avatar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	av, ok := c.avatars[id]
	return av, ok
}

func handleCreateElement(cfg *Config, c *Catalog) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ *account) {
		var req struct {
			ImageURL string `json:"imageUrl"`
			Width    int    `json:"width"`
			Height   int    `json:"height"`
			Static   bool   `json:"static"`
		}
		if err := readJSON(r, &req); err != nil || req.Width < 1 || req.Height < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "imageUrl, width and height are required"})
			return
		}

		el := &Element{
			ID:       uuid.NewString(),
			ImageURL: req.ImageURL,
			Width:    req.Width,
			Height:   req.Height,
			Static:   req.Static,
		}
		c.mu.Lock()
		c.elements[el.ID] = el
		c.mu.Unlock()

		logf(cfg, "SPACES: Created element %s (%dx%d static=%t)", el.ID, el.Width, el.Height, el.Static)
		writeJSON(w, http.StatusOK, map[string]string{"id": el.ID})
	}
}

func handleUpdateElement(c *Catalog) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ *account) {
		var req struct {
			ImageURL string `json:"imageUrl"`
		}
		if err := readJSON(r, &req); err != nil || req.ImageURL == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "imageUrl is required"})
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		el, ok := c.elements[ps.ByName("elementId")]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "unknown element"})
			return
		}
		el.ImageURL = req.ImageURL
		writeJSON(w, http.StatusOK, map[string]string{"message": "element updated"})
	}
}

func handleCreateAvatar(c *Catalog) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ *account) {
		var req struct {
			ImageURL string `json:"imageUrl"`
			Name     string `json:"name"`
		}
		if err := readJSON(r, &req); err != nil || req.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "imageUrl and name are required"})
			return
		}

		av := &Avatar{ID: uuid.NewString(), ImageURL: req.ImageURL, Name: req.Name}
		c.mu.Lock()
		c.avatars[av.ID] = av
		c.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]string{"avatarId": av.ID})
	}
}

func handleListAvatars(c *Catalog) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		c.mu.RLock()
		avatars := make([]*Avatar, 0, len(c.avatars))
		for _, av := range c.avatars {
			avatars = append(avatars, av)
		}
		c.mu.RUnlock()

		writeJSON(w, http.StatusOK, map[string]any{"avatars": avatars})
	}
}

func handleCreateMap(cfg *Config, c *Catalog) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ *account) {
		var req struct {
			Thumbnail       string      `json:"thumbnail"`
			Dimensions      string      `json:"dimensions"`
			Name            string      `json:"name"`
			DefaultElements []Placement `json:"defaultElements"`
		}
		if err := readJSON(r, &req); err != nil || req.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "name and dimensions are required"})
			return
		}
		width, height, err := parseDimensions(req.Dimensions)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		for _, placed := range req.DefaultElements {
			if _, ok := c.elements[placed.ElementID]; !ok {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "unknown element in defaultElements"})
				return
			}
		}

		m := &MapDef{
			ID:              uuid.NewString(),
			Name:            req.Name,
			Thumbnail:       req.Thumbnail,
			Width:           width,
			Height:          height,
			DefaultElements: req.DefaultElements,
		}
		c.maps[m.ID] = m

		logf(cfg, "SPACES: Created map %s (%dx%d, %d default elements)", m.ID, width, height, len(m.DefaultElements))
		writeJSON(w, http.StatusOK, map[string]string{"id": m.ID})
	}
}

func handleCreateSpace(cfg *Config, c *Catalog) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, acct *account) {
		var req struct {
			Name       string `json:"name"`
			Dimensions string `json:"dimensions"`
			MapID      string `json:"mapId"`
		}
		if err := readJSON(r, &req); err != nil || req.Name == "" || (req.Dimensions == "" && req.MapID == "") {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "name plus dimensions or mapId are required"})
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		rec := &spaceRecord{
			ID:        uuid.NewString(),
			Name:      req.Name,
			CreatorID: acct.ID,
		}

		if req.MapID != "" {
			m, ok := c.maps[req.MapID]
			if !ok {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "unknown map"})
				return
			}
			rec.Width, rec.Height = m.Width, m.Height
			for _, placed := range m.DefaultElements {
				rec.Elements = append(rec.Elements, PlacedElement{
					ID:        uuid.NewString(),
					ElementID: placed.ElementID,
					X:         placed.X,
					Y:         placed.Y,
				})
			}
		} else {
			width, height, err := parseDimensions(req.Dimensions)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
				return
			}
			rec.Width, rec.Height = width, height
		}

		c.spaces[rec.ID] = rec
		logf(cfg, "SPACES: %s created space %s (%dx%d)", acct.ID, rec.ID, rec.Width, rec.Height)
		writeJSON(w, http.StatusOK, map[string]string{"spaceId": rec.ID})
	}
}

func handleDeleteSpace(cfg *Config, c *Catalog) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, acct *account) {
		c.mu.Lock()
		defer c.mu.Unlock()

		rec, ok := c.spaces[ps.ByName("spaceId")]
		if !ok || rec.CreatorID != acct.ID {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "no such space"})
			return
		}
		delete(c.spaces, rec.ID)

		logf(cfg, "SPACES: %s deleted space %s", acct.ID, rec.ID)
		writeJSON(w, http.StatusOK, map[string]string{"message": "space deleted"})
	}
}

func handleListSpaces(c *Catalog) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, acct *account) {
		type spaceSummary struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			Dimensions string `json:"dimensions"`
		}

		c.mu.RLock()
		spaces := make([]spaceSummary, 0)
		for _, rec := range c.spaces {
			if rec.CreatorID != acct.ID {
				continue
			}
			spaces = append(spaces, spaceSummary{
				ID:         rec.ID,
				Name:       rec.Name,
				Dimensions: fmt.Sprintf("%dx%d", rec.Width, rec.Height),
			})
		}
		c.mu.RUnlock()

		writeJSON(w, http.StatusOK, map[string]any{"spaces": spaces})
	}
}

func handleGetSpace(c *Catalog) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ *account) {
		c.mu.RLock()
		defer c.mu.RUnlock()

		rec, ok := c.spaces[ps.ByName("spaceId")]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "no such space"})
			return
		}

		elements := rec.Elements
		if elements == nil {
			elements = []PlacedElement{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"dimensions": fmt.Sprintf("%dx%d", rec.Width, rec.Height),
			"elements":   elements,
		})
	}
}

func handleAddSpaceElement(c *Catalog) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ *account) {
		var req struct {
			SpaceID   string `json:"spaceId"`
			ElementID string `json:"elementId"`
			X         int    `json:"x"`
			Y         int    `json:"y"`
		}
		if err := readJSON(r, &req); err != nil || req.SpaceID == "" || req.ElementID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "spaceId and elementId are required"})
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		rec, ok := c.spaces[req.SpaceID]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "no such space"})
			return
		}
		if _, ok := c.elements[req.ElementID]; !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "unknown element"})
			return
		}
		if req.X < 0 || req.X >= rec.Width || req.Y < 0 || req.Y >= rec.Height {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "position outside space bounds"})
			return
		}

		rec.Elements = append(rec.Elements, PlacedElement{
			ID:        uuid.NewString(),
			ElementID: req.ElementID,
			X:         req.X,
			Y:         req.Y,
		})
		writeJSON(w, http.StatusOK, map[string]string{"message": "element added"})
	}
}

func handleDeleteSpaceElement(c *Catalog) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ *account) {
		c.mu.Lock()
		defer c.mu.Unlock()

		rec, ok := c.spaces[ps.ByName("spaceId")]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "no such space"})
			return
		}

		id := ps.ByName("id")
		for i, placed := range rec.Elements {
			if placed.ID == id {
				rec.Elements = append(rec.Elements[:i], rec.Elements[i+1:]...)
				writeJSON(w, http.StatusOK, map[string]string{"message": "element removed"})
				return
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "no such element"})
	}
}

func registerCatalog(cfg *Config, mux *httprouter.Router, c *Catalog, auth *AuthService) {
	mux.POST(cfg.prefix+"/api/v1/admin/element", auth.adminOnly(handleCreateElement(cfg, c)))
	mux.PUT(cfg.prefix+"/api/v1/admin/element/:elementId", auth.adminOnly(handleUpdateElement(c)))
	mux.POST(cfg.prefix+"/api/v1/admin/avatar", auth.adminOnly(handleCreateAvatar(c)))
	mux.POST(cfg.prefix+"/api/v1/admin/map", auth.adminOnly(handleCreateMap(cfg, c)))

	mux.GET(cfg.prefix+"/api/v1/avatars", handleListAvatars(c))

	mux.POST(cfg.prefix+"/api/v1/space", auth.authenticate(handleCreateSpace(cfg, c)))
	mux.GET(cfg.prefix+"/api/v1/spaces", auth.authenticate(handleListSpaces(c)))
	mux.GET(cfg.prefix+"/api/v1/space/:spaceId", auth.authenticate(handleGetSpace(c)))
	mux.DELETE(cfg.prefix+"/api/v1/space/:spaceId", auth.authenticate(handleDeleteSpace(cfg, c)))
	mux.POST(cfg.prefix+"/api/v1/space/element", auth.authenticate(handleAddSpaceElement(c)))
	mux.DELETE(cfg.prefix+"/api/v1/space/:spaceId/element/:id", auth.authenticate(handleDeleteSpaceElement(c)))
}
