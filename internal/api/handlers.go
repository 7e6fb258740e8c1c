package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/openinbox/inboxd/internal/domain/action"
	"github.com/openinbox/inboxd/internal/storage"
)

type handler struct {
	store storage.ActionStore
}

func newHandler(store storage.ActionStore) *handler {
	return &handler{store: store}
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sysStats reports process and host load, the Go rendition of the embedded
// /load and /mem probes the sync frontend exposes.
func (h *handler) sysStats(c *gin.Context) {
	stats := gin.H{"goroutines": runtime.NumGoroutine()}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil {
			stats["process_rss_bytes"] = memInfo.RSS
		}
		if cpuPct, err := proc.CPUPercent(); err == nil {
			stats["process_cpu_percent"] = cpuPct
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats["host_memory_used_percent"] = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		stats["host_load1"] = avg.Load1
	}

	c.JSON(http.StatusOK, stats)
}

type createActionRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

func (h *handler) createAction(c *gin.Context) {
	var req createActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "type": "invalid_request"})
		return
	}

	created, err := h.store.CreateAction(c.Request.Context(), action.Action{
		NamespaceID: c.GetString(ctxNamespaceKey),
		Type:        req.Type,
		Payload:     req.Payload,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "type": "api_error"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *handler) listActions(c *gin.Context) {
	acts, err := h.store.ListActions(c.Request.Context(), c.GetString(ctxNamespaceKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "type": "api_error"})
		return
	}
	c.JSON(http.StatusOK, acts)
}

func (h *handler) getAction(c *gin.Context) {
	act, ok := h.namespaceAction(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, act)
}

// retryAction returns a failed action to the queue with a fresh attempt
// budget.
func (h *handler) retryAction(c *gin.Context) {
	act, ok := h.namespaceAction(c)
	if !ok {
		return
	}
	if act.Status != action.StatusFailed {
		c.JSON(http.StatusConflict, gin.H{"error": "only failed actions can be retried", "type": "invalid_request"})
		return
	}
	if err := h.store.Requeue(c.Request.Context(), act.ID, 0, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "type": "api_error"})
		return
	}
	act, err := h.store.GetAction(c.Request.Context(), act.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "type": "api_error"})
		return
	}
	c.JSON(http.StatusOK, act)
}

func (h *handler) namespaceAction(c *gin.Context) (action.Action, bool) {
	act, err := h.store.GetAction(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && act.NamespaceID != c.GetString(ctxNamespaceKey)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "action not found", "type": "invalid_request"})
		return action.Action{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "type": "api_error"})
		return action.Action{}, false
	}
	return act, true
}
