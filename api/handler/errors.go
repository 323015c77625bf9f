package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// streamErr is a request-terminating failure with a fixed status and a
// stable machine-readable kind. Causes are logged where they occur; only
// the kind crosses into the response body.
type streamErr struct {
	status int
	kind   string
}

func (e *streamErr) Error() string { return e.kind }

var (
	errEmptySignature     = &streamErr{http.StatusBadRequest, "EmptySignature"}
	errInvalidSignature   = &streamErr{http.StatusBadRequest, "InvalidEncryptedSignature"}
	errExpiredStream      = &streamErr{http.StatusBadRequest, "ExpiredStream"}
	errInvalidMediaSource = &streamErr{http.StatusBadRequest, "InvalidMediaSource"}
	errInvalidURI         = &streamErr{http.StatusBadRequest, "InvalidUri"}
	errEmptyEmbyToken     = &streamErr{http.StatusBadRequest, "EmptyEmbyToken"}
	errEmptyStrm          = &streamErr{http.StatusBadRequest, "EmptyStrmFile"}
	errStrmTooLarge       = &streamErr{http.StatusBadRequest, "StrmFileTooLarge"}
	errNoRange            = &streamErr{http.StatusForbidden, "NoRangeHeader"}
	errFileNotFound       = &streamErr{http.StatusNotFound, "FileNotFound"}
	errUpstream           = &streamErr{http.StatusBadGateway, "UpstreamFailure"}
	errInternal           = &streamErr{http.StatusInternalServerError, "Internal"}
)

// abort terminates the request with err's status and kind. Anything that
// is not a streamErr maps to 500.
func abort(c *gin.Context, err error) {
	var se *streamErr
	if !errors.As(err, &se) {
		se = errInternal
	}
	c.AbortWithStatusJSON(se.status, gin.H{"error": se.kind})
}
