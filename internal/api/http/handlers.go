package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/edirooss/supervisor/internal/procmgr"
)

type handlers struct {
	ctrl procmgr.Control
	log  *zap.Logger
}

// statusFor implements §6's ErrCode -> HTTP status mapping.
func statusFor(code procmgr.ErrCode) int {
	switch code {
	case procmgr.ErrBadName, procmgr.ErrNoFile:
		return http.StatusNotFound
	case procmgr.ErrAlreadyStarted, procmgr.ErrAlreadyAdded, procmgr.ErrStillRunning:
		return http.StatusConflict
	case procmgr.ErrNotRunning, procmgr.ErrNotExecutable:
		return http.StatusBadRequest
	case procmgr.ErrShutdownState:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(c *gin.Context, err error) {
	var ce *procmgr.ControlError
	if errors.As(err, &ce) {
		_ = c.Error(err)
		c.JSON(statusFor(ce.Code), gin.H{"error": ce.Code.String(), "message": ce.Msg})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "FAILED", "message": err.Error()})
}

func (h *handlers) list(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.List())
}

func (h *handlers) start(c *gin.Context) {
	if err := h.ctrl.Start(c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) stop(c *gin.Context) {
	if err := h.ctrl.Stop(c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) startGroup(c *gin.Context) {
	infos, err := h.ctrl.StartGroup(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, infos)
}

func (h *handlers) stopGroup(c *gin.Context) {
	infos, err := h.ctrl.StopGroup(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, infos)
}

func (h *handlers) startAll(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.StartAll())
}

func (h *handlers) stopAll(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.StopAll())
}

func (h *handlers) readLog(c *gin.Context) {
	channel := c.DefaultQuery("channel", "stdout")
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	length, _ := strconv.Atoi(c.DefaultQuery("length", "0"))

	text, err := h.ctrl.ReadLog(c.Param("name"), channel, offset, length)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.String(http.StatusOK, text)
}

func (h *handlers) clearLog(c *gin.Context) {
	if err := h.ctrl.ClearLog(c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addGroupRequest struct {
	Priority int      `json:"priority"`
	Programs []string `json:"programs" binding:"required"`
}

func (h *handlers) addGroup(c *gin.Context) {
	// The HTTP surface only names already-loaded programs; wiring fresh
	// ProcessConfigs through the wire format is out of scope for this
	// transport (reloadConfig is the path for whole-file changes).
	h.fail(c, &procmgr.ControlError{Code: procmgr.ErrFailed, Msg: "addGroup via HTTP is not supported; use reloadConfig"})
}

func (h *handlers) removeGroup(c *gin.Context) {
	if err := h.ctrl.RemoveGroup(c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) shutdown(c *gin.Context) {
	h.ctrl.Shutdown()
	c.Status(http.StatusAccepted)
}

func (h *handlers) restart(c *gin.Context) {
	h.ctrl.Restart()
	c.Status(http.StatusAccepted)
}

func (h *handlers) reload(c *gin.Context) {
	// reloadConfig's diff is computed against the next generation's parsed
	// config, which cmd/supervisord owns (it holds the config file path);
	// the handler only triggers a restart, the standard path by which a
	// fresh generation picks up the new file (§4.G HUP handling).
	h.ctrl.Restart()
	c.Status(http.StatusAccepted)
}
