package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ViewLogEntry is one log line forwarded from the browser view.
type ViewLogEntry struct {
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	AppID   string                 `json:"appId,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// ViewLogBatch is a batch of forwarded view logs.
type ViewLogBatch struct {
	Source  string         `json:"source"`
	Entries []ViewLogEntry `json:"entries"`
}

// ViewLogs ingests console output forwarded by the view so that
// renderer-side errors land in the same structured log as the shell's
// own. Entries keep their original level.
func (h *Handlers) ViewLogs(c *gin.Context) {
	var batch ViewLogBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		fail(c, http.StatusBadRequest, errors.New("malformed log batch"))
		return
	}
	if batch.Source != "view" {
		fail(c, http.StatusBadRequest, errors.New("unknown log source"))
		return
	}
	if len(batch.Entries) == 0 {
		fail(c, http.StatusBadRequest, errors.New("empty log batch"))
		return
	}

	for _, entry := range batch.Entries {
		h.writeViewLog(entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"received":  len(batch.Entries),
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handlers) writeViewLog(entry ViewLogEntry) {
	fields := make([]zap.Field, 0, len(entry.Context)+1)
	if entry.AppID != "" {
		fields = append(fields, zap.String("app_id", entry.AppID))
	}
	for key, value := range entry.Context {
		switch v := value.(type) {
		case string:
			fields = append(fields, zap.String(key, v))
		case float64:
			fields = append(fields, zap.Float64(key, v))
		case bool:
			fields = append(fields, zap.Bool(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}

	switch entry.Level {
	case "error":
		h.viewLog.Error(entry.Message, fields...)
	case "warn":
		h.viewLog.Warn(entry.Message, fields...)
	case "debug":
		h.viewLog.Debug(entry.Message, fields...)
	default:
		h.viewLog.Info(entry.Message, fields...)
	}
}
