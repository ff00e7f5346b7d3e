package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/stream"
)

const mutationMaxSize = 64 * 1024 // 64 KiB

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, board *Board, auth Authenticator, deduper Deduper, hub *stream.Hub, logger *log.Logger) {
	e.Use(GzipRequestMiddleware())

	e.GET("/api/tasks", getTasks(board, auth, logger))
	e.POST("/api/tasks", createTask(board, auth))
	e.PUT("/api/tasks/:id", editTask(board, auth))
	e.DELETE("/api/tasks/:id", deleteTask(board, auth))
	e.POST("/api/tasks/reorder", reorderTask(board, auth, deduper))
	e.GET("/api/stream", streamEvents(board, auth, hub, logger))
	e.GET("/healthz", healthz())

	initNotifySender(board.store, logger)
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type createTaskRequest struct {
	Title string `json:"title"`
}

type editTaskRequest struct {
	Title string `json:"title"`
}

type reorderRequest struct {
	TaskID string        `json:"task_id"`
	Status domain.Status `json:"status"`
	Order  int           `json:"order"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(board *Board, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger)
		if spanCtx != nil {
			req := c.Request().WithContext(spanCtx)
			c.SetRequest(req)
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		fetchStart := time.Now()
		tasks, fetchErr := board.Snapshot(ctx)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTask(board *Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if strings.TrimSpace(req.Title) == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "title must not be empty"})
		}

		task, err := board.Create(c.Request().Context(), actor, req.Title)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to create task")
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func editTask(board *Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req editTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if strings.TrimSpace(req.Title) == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "title must not be empty"})
		}

		task, err := board.EditTitle(c.Request().Context(), actor, c.Param("id"), req.Title)
		if err != nil {
			return mutationError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(board *Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		if err := board.Delete(c.Request().Context(), actor, c.Param("id")); err != nil {
			return mutationError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func reorderTask(board *Board, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req reorderRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.TaskID == "" || !req.Status.Valid() {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "task_id and a valid status are required"})
		}

		key := c.Request().Header.Get("Idempotency-Key")
		if key != "" && deduper != nil {
			added, err := deduper.Add(ctx, actor.Name, key)
			if err != nil {
				c.Logger().Errorf("deduper: %v", err)
			} else if !added {
				// Already applied; the broadcast confirmed it.
				return c.NoContent(http.StatusOK)
			}
		}

		if err := board.Move(ctx, actor, req.TaskID, req.Status, req.Order); err != nil {
			if key != "" && deduper != nil {
				if rerr := deduper.Remove(ctx, actor.Name, key); rerr != nil {
					c.Logger().Errorf("deduper rollback: %v", rerr)
				}
			}
			return mutationError(c, err)
		}

		// Confirmation travels over the push channel, not this response.
		return c.NoContent(http.StatusOK)
	}
}

// mutationError maps board errors onto the REST surface. Policy denials
// are surfaced to the actor only and never broadcast.
func mutationError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotAllowed):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case errors.Is(err, domain.ErrUnknownTask):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, mutationMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
