package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sourcequill/backend/internal/http/middleware"
	"github.com/sourcequill/backend/internal/http/response"
	"github.com/sourcequill/backend/internal/realtime"
)

type RealtimeHandler struct {
	hub *realtime.SSEHub
}

func NewRealtimeHandler(hub *realtime.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Stream opens the event stream for the authenticated user. Additional
// channels come in via ?channels=a,b; the user's own channel is always
// subscribed.
func (rh *RealtimeHandler) Stream(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	client := rh.hub.NewSSEClient(userID)
	rh.hub.AddChannel(client, realtime.UserChannel(userID))
	for _, ch := range strings.Split(c.Query("channels"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			rh.hub.AddChannel(client, ch)
		}
	}
	defer rh.hub.CloseClient(client)

	rh.hub.ServeHTTP(c.Writer, c.Request, client)
}
