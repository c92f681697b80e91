// Package httperr writes classified errors as JSON responses.
package httperr

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/logging"
)

// Write responds with the status and code for err. Business errors carry
// their message to the caller; unclassified failures are logged and hidden.
func Write(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("request failed",
			"path", c.FullPath(),
			"status", status,
			"error", err,
		)
		if status == http.StatusInternalServerError {
			msg = "Internal error"
		}
	}
	c.JSON(status, gin.H{
		"error":   apperr.Code(err),
		"message": msg,
	})
}

// BadRequest responds 400 with a fixed invalid_request code.
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": msg,
	})
}
