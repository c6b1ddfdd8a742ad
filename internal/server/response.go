package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func respond(c *gin.Context, status int, success bool, message string, data any) {
	if message == "" {
		if success {
			message = "ok"
		} else {
			message = http.StatusText(status)
		}
	}
	if data == nil {
		data = gin.H{}
	}
	c.JSON(status, APIResponse{Success: success, Data: data, Message: message, Code: status})
}

func respondOK(c *gin.Context, data any) {
	respond(c, http.StatusOK, true, "", data)
}

func respondError(c *gin.Context, status int, message string, data any) {
	respond(c, status, false, message, data)
}
