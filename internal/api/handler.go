package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
	"github.com/Gopher0727/RoleInvite/internal/utils"
	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

// Console is satisfied by *prompt.Console.
type Console interface {
	Serve(w http.ResponseWriter, r *http.Request, community, moderator string)
}

// CommandRecorder is satisfied by *metrics.Metrics.
type CommandRecorder interface {
	CommandDone(command string, status int, took time.Duration)
}

// Handler serves the moderator commands.
type Handler struct {
	registry *autorole.Registry
	console  Console
	recorder CommandRecorder
	log      *logger.Logger
	version  string
}

func NewHandler(registry *autorole.Registry, console Console, recorder CommandRecorder, log *logger.Logger, version string) *Handler {
	return &Handler{
		registry: registry,
		console:  console,
		recorder: recorder,
		log:      log.Named("api"),
		version:  version,
	}
}

type roleView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

func rolesView(roles []autorole.Role) []roleView {
	out := make([]roleView, 0, len(roles))
	for _, r := range roles {
		out = append(out, roleView{ID: string(r.ID), Name: r.Name, Position: r.Position})
	}
	return out
}

func idsView(ids []autorole.RoleID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

// command names the handler for logs and metrics.
func (h *Handler) command(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxCommand, name)
		start := time.Now()
		c.Next()
		if h.recorder != nil {
			h.recorder.CommandDone(name, c.Writer.Status(), time.Since(start))
		}
	}
}

type addLinkRequest struct {
	Invite string `json:"invite" binding:"required"`
	RoleID string `json:"role_id" binding:"required"`
}

type addLinkResponse struct {
	Key      string     `json:"key"`
	Kind     string     `json:"kind"`
	Roles    []roleView `json:"roles"`
	Created  bool       `json:"created"`
	Warnings []string   `json:"warnings,omitempty"`
}

// AddLink POST /links
func (h *Handler) AddLink(c *gin.Context) {
	var req addLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !utils.ValidateID(req.RoleID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role id"})
		return
	}
	key, err := autorole.ParseKey(req.Invite)
	if err != nil {
		h.respondError(c, err)
		return
	}

	res, err := h.registry.AddLink(c.Request.Context(), autorole.AddLinkRequest{
		Community: c.Param("community_id"),
		Moderator: c.GetString(ctxModerator),
		Key:       key,
		Role:      autorole.RoleID(req.RoleID),
	})
	if err != nil {
		h.respondError(c, err, zap.String("invite", req.Invite), zap.String("role_id", req.RoleID))
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, addLinkResponse{
		Key:      res.Key.String(),
		Kind:     res.Key.Kind().String(),
		Roles:    rolesView(res.Roles),
		Created:  res.Created,
		Warnings: res.Warnings,
	})
}

type removeLinkResponse struct {
	Key          string   `json:"key"`
	Removed      []string `json:"removed"`
	EntryDeleted bool     `json:"entry_deleted"`
}

// RemoveLink DELETE /links/:invite?role_id= or DELETE /links?invite=&role_id=
//
// The query form takes invite URLs, so an invite whose code is "main" or
// "default" can be removed.
func (h *Handler) RemoveLink(c *gin.Context) {
	invite := c.Query("invite")
	if invite == "" {
		invite = c.Param("invite")
	}
	key, err := autorole.ParseKey(invite)
	if err != nil {
		h.respondError(c, err)
		return
	}
	role := c.Query("role_id")
	if role != "" && !utils.ValidateID(role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role id"})
		return
	}

	res, err := h.registry.RemoveLink(c.Request.Context(), autorole.RemoveLinkRequest{
		Community: c.Param("community_id"),
		Moderator: c.GetString(ctxModerator),
		Key:       key,
		Role:      autorole.RoleID(role),
	})
	if err != nil {
		h.respondError(c, err, zap.String("invite", invite), zap.String("role_id", role))
		return
	}

	c.JSON(http.StatusOK, removeLinkResponse{
		Key:          res.Key.String(),
		Removed:      idsView(res.Removed),
		EntryDeleted: res.EntryDeleted,
	})
}

type linkView struct {
	Key   string     `json:"key"`
	Kind  string     `json:"kind"`
	Uses  int        `json:"uses"`
	Roles []roleView `json:"roles"`
}

type listingResponse struct {
	Enabled bool       `json:"enabled"`
	Links   []linkView `json:"links"`
}

// ListLinks GET /links
func (h *Handler) ListLinks(c *gin.Context) {
	listing, err := h.registry.ListLinks(c.Request.Context(), c.Param("community_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := listingResponse{Enabled: listing.Enabled, Links: make([]linkView, 0, len(listing.Links))}
	for _, l := range listing.Links {
		resp.Links = append(resp.Links, linkView{
			Key:   l.Key.String(),
			Kind:  l.Key.Kind().String(),
			Uses:  l.Uses,
			Roles: rolesView(l.Roles),
		})
	}
	c.JSON(http.StatusOK, resp)
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetEnabled PUT /enabled
func (h *Handler) SetEnabled(c *gin.Context) {
	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.SetEnabled(c.Request.Context(), c.Param("community_id"), *req.Enabled); err != nil {
		h.respondError(c, err, zap.Bool("enabled", *req.Enabled))
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

// Console GET /console (websocket)
func (h *Handler) Console(c *gin.Context) {
	h.console.Serve(c.Writer, c.Request, c.Param("community_id"), c.GetString(ctxModerator))
}

// Info GET /info
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "roleinvite",
		"version": h.version,
		"go":      runtime.Version(),
	})
}
