// Package httpapi implements the REST surface spec.md §6 describes,
// grounded on the teacher's internal/http/response envelope and gin
// router/handler split, generalized from the teacher's auth/course/lesson
// domain to job dispatch, worker, and template endpoints.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/scitix/netpulse/internal/apierrors"
)

// envelope is the {code,message,data} shape spec.md §6 requires: code=0
// on success, code=-1 on error, with message carrying the error text.
type envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, envelope{Code: 0, Data: data})
}

// respondError maps a typed *apierrors.Error to its HTTP status and the
// {code:-1,message,data} envelope; an untyped error falls back to 500.
func respondError(c *gin.Context, err error) {
	status := apierrors.HTTPStatus(err)
	c.JSON(status, envelope{Code: -1, Message: err.Error()})
}
