package adminapi

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/microlink/wabridge/internal/messenger"
	"github.com/microlink/wabridge/internal/webserver"
	"github.com/spf13/cast"
	"gorm.io/gorm"
)

var svc *messenger.Service

// Init wires the messenger service into the admin API and registers routes.
// Call after webserver.Init.
func Init(service *messenger.Service) {
	svc = service
	registerAccountRoutes()
}

// GetDB returns the request-scoped gorm handle.
func GetDB(c echo.Context) *gorm.DB {
	return webserver.DBFromContext(c)
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code": 0,
		"msg":  "ok",
		"data": data,
	})
}

func fail(c echo.Context, status int, code, msg string, detail interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"code":   1,
		"error":  code,
		"msg":    msg,
		"detail": detail,
	})
}

func paged(c echo.Context, items interface{}, total int64, page, pageSize int) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code":      0,
		"msg":       "ok",
		"data":      items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func parsePagination(c echo.Context) (page, pageSize int) {
	page = cast.ToInt(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize = cast.ToInt(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return page, pageSize
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	id := cast.ToInt64(c.Param(name))
	if id == 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func handleValidationError(c echo.Context, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", fields)
	}
	return fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error())
}

// failMessenger maps messenger errors onto HTTP responses so callers can
// distinguish retryable conditions from terminal ones.
func failMessenger(c echo.Context, err error) error {
	var nc *messenger.NotConnectedError
	switch {
	case errors.Is(err, messenger.ErrAccountNotFound):
		return fail(c, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found", nil)
	case errors.Is(err, messenger.ErrNotReady):
		return fail(c, http.StatusServiceUnavailable, "SESSION_NOT_READY", "Session is still connecting, retry later", nil)
	case errors.As(err, &nc):
		return fail(c, http.StatusConflict, "SESSION_NOT_CONNECTED", "Session is not connected", map[string]interface{}{"status": nc.Status})
	case errors.Is(err, messenger.ErrStaleState):
		return fail(c, http.StatusConflict, "SESSION_STALE", "Session state was stale and has been repaired, retry", nil)
	case errors.Is(err, messenger.ErrSendFailed):
		return fail(c, http.StatusBadGateway, "SEND_FAILED", "Message delivery failed", err.Error())
	default:
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Operation failed", err.Error())
	}
}
