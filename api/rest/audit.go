package rest

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/raidloot/server/audit"
	mw "github.com/kasuganosora/raidloot/server/middleware"
)

// recordAudit enqueues an audit entry for a mutation made by the current
// member. A nil service records nothing.
func recordAudit(svc *audit.Service, c *gin.Context, action string, req any, start time.Time, err error) {
	if svc == nil {
		return
	}
	e := audit.Entry{
		TraceID:    mw.GetTraceID(c),
		Action:     action,
		Request:    req,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(start).Milliseconds()),
	}
	if m := mw.CurrentMember(c); m != nil {
		id := m.ID
		e.ActorID = &id
		e.ActorName = m.Name
	}
	if err != nil {
		e.Error = err.Error()
	}
	svc.Log(e)
}
