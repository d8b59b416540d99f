package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arcforge/loreweaver/agent"
	"github.com/arcforge/loreweaver/core"
	"github.com/arcforge/loreweaver/storage"
)

// Handlers is the operator console surface. Every endpoint maps directly
// onto a pipeline or evolution operation; no business logic lives here.
type Handlers struct {
	log       *zap.SugaredLogger
	agent     *agent.Agent
	chars     *storage.CharacterRepository
	repo      *storage.AgentRepository
	broker    *core.Broker
	lineageID string
}

func New(a *agent.Agent, chars *storage.CharacterRepository, repo *storage.AgentRepository, broker *core.Broker, lineageID string, log *zap.SugaredLogger) *Handlers {
	return &Handlers{
		log:       log,
		agent:     a,
		chars:     chars,
		repo:      repo,
		broker:    broker,
		lineageID: lineageID,
	}
}

// ForcePost triggers an immediate new-post generation.
func (h *Handlers) ForcePost(c *gin.Context) {
	if err := h.agent.ForcePost(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

// ForceBranch triggers an immediate branch.
func (h *Handlers) ForceBranch(c *gin.Context) {
	if err := h.agent.ForceBranch(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

type forceReplyRequest struct {
	Text   string `json:"text" binding:"required"`
	Author string `json:"author"`
}

// ForceReply generates a reply to operator-supplied context.
func (h *Handlers) ForceReply(c *gin.Context) {
	var req forceReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Author == "" {
		req.Author = "operator"
	}
	if err := h.agent.ForceReply(req.Text, req.Author); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

// GetActiveCharacter returns the active character version.
func (h *Handlers) GetActiveCharacter(c *gin.Context) {
	p, err := h.chars.GetActive(h.lineageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetCharacterVersion returns one specific version for audit.
func (h *Handlers) GetCharacterVersion(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version must be an integer"})
		return
	}
	p, err := h.chars.GetVersion(h.lineageID, version)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetEvolutionState returns the machine's current snapshot.
func (h *Handlers) GetEvolutionState(c *gin.Context) {
	c.JSON(http.StatusOK, h.agent.Machine().Snapshot())
}

// ListPosts returns the post log oldest-first.
func (h *Handlers) ListPosts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := h.repo.ListPostRecords(h.lineageID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": records})
}

// GetStats returns per-version activity counters.
func (h *Handlers) GetStats(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version must be an integer"})
		return
	}
	st, err := h.repo.GetStats(h.lineageID, version)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}
