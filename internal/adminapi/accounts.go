package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/microlink/wabridge/internal/domain"
	"github.com/microlink/wabridge/internal/webserver"
	"go.uber.org/zap"
)

type accountPayload struct {
	Phone string `json:"phone" validate:"required,min=5,max=32"`
	Name  string `json:"name" validate:"omitempty,max=200"`
}

type accountUpdatePayload struct {
	Name *string `json:"name" validate:"omitempty,max=200"`
}

type sendPayload struct {
	Dest string `json:"dest" validate:"required,min=1,max=128"`
	Text string `json:"text" validate:"required,min=1,max=4096"`
}

// registerAccountRoutes registers chat account and session routes
func registerAccountRoutes() {
	webserver.ApiGET("/chat/accounts", listAccounts)
	webserver.ApiPOST("/chat/accounts", createAccount)
	webserver.ApiGET("/chat/accounts/:id", getAccount)
	webserver.ApiPUT("/chat/accounts/:id", updateAccount)
	webserver.ApiDELETE("/chat/accounts/:id", deleteAccount)
	webserver.ApiPOST("/chat/accounts/:id/connect", connectAccount)
	webserver.ApiPOST("/chat/accounts/:id/disconnect", disconnectAccount)
	webserver.ApiPOST("/chat/accounts/:id/reconnect", reconnectAccount)
	webserver.ApiGET("/chat/accounts/:id/qr", getAccountQR)
	webserver.ApiGET("/chat/accounts/:id/status", getAccountStatus)
	webserver.ApiPOST("/chat/accounts/:id/send", sendMessage)
	webserver.ApiGET("/chat/accounts/:id/messages", listAccountMessages)
}

func listAccounts(c echo.Context) error {
	page, pageSize := parsePagination(c)
	accounts, total, err := svc.ListAccounts(c.Request().Context(), page, pageSize)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query accounts", err.Error())
	}
	return paged(c, accounts, total, page, pageSize)
}

func createAccount(c echo.Context) error {
	var payload accountPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse account parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	account, err := svc.CreateAccount(c.Request().Context(), strings.TrimSpace(payload.Phone), strings.TrimSpace(payload.Name))
	if err != nil {
		return fail(c, http.StatusBadRequest, "CREATE_FAILED", "Failed to create account", err.Error())
	}
	zap.L().Info("adminapi: created chat account",
		zap.Int64("account_id", account.ID), zap.String("phone", account.Phone))
	return ok(c, account)
}

func getAccount(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid account ID", nil)
	}
	account, err := svc.GetAccount(c.Request().Context(), id)
	if err != nil {
		return failMessenger(c, err)
	}
	return ok(c, account)
}

func updateAccount(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid account ID", nil)
	}
	var payload accountUpdatePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse account parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	if payload.Name == nil {
		return ok(c, map[string]interface{}{"id": id})
	}
	if err := svc.UpdateAccount(c.Request().Context(), id, strings.TrimSpace(*payload.Name)); err != nil {
		return failMessenger(c, err)
	}
	return ok(c, map[string]interface{}{"id": id})
}

func deleteAccount(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid account ID", nil)
	}
	if err := svc.DeleteAccount(c.Request().Context(), id); err != nil {
		return failMessenger(c, err)
	}
	zap.L().Info("adminapi: deleted chat account", zap.Int64("account_id", id))
	return ok(c, map[string]interface{}{"id": id})
}

// connectAccount starts a session. For an unpaired account this begins the
// pairing flow; poll the qr endpoint afterwards.
func connectAccount(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid account ID", nil)
	}
	if err := svc.Connect(c.Request().Context(), id); err != nil {
		return failMessenger(c, err)
	}
	return ok(c, map[string]interface{}{"started": true})
}

func disconnectAccount(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid account ID", nil)
	}
	if err := svc.Disconnect(c.Request().Context(), id); err != nil {
		return failMessenger(c, err)
	}
	return ok(c, map[string]interface{}{"disconnected": true})
}

// reconnectAccount drops the current session and credential and starts a
// fresh pairing cycle.
func reconnectAccount(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid account ID", nil)
	}
	if err := svc.Reconnect(c.Request().Context(), id); err != nil {
		return failMessenger(c, err)
	}
	return ok(c, map[string]interface{}{"started": true})
}

func getAccountQR(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid account ID", nil)
	}
	info, err := svc.GetQR(c.Request().Context(), id)
	if err != nil {
		return failMessenger(c, err)
	}
	return ok(c, info)
}

func getAccountStatus(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid account ID", nil)
	}
	status, err := svc.GetStatus(c.Request().Context(), id)
	if err != nil {
		return failMessenger(c, err)
	}
	return ok(c, status)
}

func sendMessage(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid account ID", nil)
	}
	var payload sendPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse send parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	result, err := svc.Send(c.Request().Context(), id, strings.TrimSpace(payload.Dest), payload.Text)
	if err != nil {
		return failMessenger(c, err)
	}
	return ok(c, result)
}

// listAccountMessages returns the delivery audit trail for an account.
func listAccountMessages(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid account ID", nil)
	}
	page, pageSize := parsePagination(c)

	db := GetDB(c).Model(&domain.ChatMessageLog{}).Where("account_id = ?", id)
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query messages", err.Error())
	}
	var logs []domain.ChatMessageLog
	if err := db.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&logs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query messages", err.Error())
	}
	return paged(c, logs, total, page, pageSize)
}
