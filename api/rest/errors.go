package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	mw "github.com/kasuganosora/raidloot/server/middleware"
	"github.com/kasuganosora/raidloot/server/raid"
	"go.uber.org/zap"
)

// respondError maps the raid error taxonomy onto HTTP statuses. Anything
// outside it is logged and reported as a generic 500.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		nf *raid.NotFoundError
		ce *raid.ConflictError
		ve *raid.ValidationError
	)
	switch {
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "entity": nf.Entity, "key": nf.Key})
	case errors.As(err, &ce):
		body := gin.H{"error": err.Error(), "entity": ce.Entity}
		if ce.ExistingID != "" {
			body["existing_id"] = ce.ExistingID
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": ve.Field})
	default:
		logger.Error("request failed",
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// bindJSON decodes the body into req and answers 400 on failure.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": verrs[0].Field()})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
