package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/stream"
)

const heartbeatInterval = 25 * time.Second

// streamEvents serves the push channel: one SSE connection per client.
// The stream opens with a bulk snapshot of the whole board so a
// reconnecting client resynchronizes before incremental events resume.
func streamEvents(board *Board, auth Authenticator, hub *stream.Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		actor, err := auth.ActorFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		ch, cancel := hub.Subscribe()
		defer cancel()

		tasks, err := board.Snapshot(ctx)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "snapshot failed")
		}
		snapshot, err := json.Marshal(domain.BulkUpdateEvent(tasks, 0))
		if err != nil {
			return err
		}
		if err := writeSSE(c, flusher, snapshot); err != nil {
			return nil
		}

		logger.WithFields(log.Fields{"actor": actor.Name, "subscribers": hub.Len()}).Debug("stream connected")

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				// Comment frame keeps the connection alive through proxies.
				if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				if err := writeSSE(c, flusher, msg); err != nil {
					return nil
				}
			}
		}
	}
}

func writeSSE(c echo.Context, flusher http.Flusher, data []byte) error {
	if _, err := c.Response().Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
