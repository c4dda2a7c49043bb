package webserver

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/microlink/wabridge/internal/app"
	"github.com/microlink/wabridge/internal/domain"
	"github.com/microlink/wabridge/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dbContextKey = "db"

var server *WebServer

// WebServer wraps the echo engine with application wiring. Routes registered
// through the Api helpers require a valid bearer token; the login endpoint is
// the only open route.
type WebServer struct {
	root *echo.Echo
	api  *echo.Group
	app  app.AppContext
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// Init builds the global web server instance. Call before registering routes.
func Init(appCtx app.AppContext) *WebServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New()}
	e.Use(middleware.Recover())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(dbContextKey, appCtx.DB())
			return next(c)
		}
	})

	s := &WebServer{root: e, app: appCtx}
	s.api = e.Group("/api")
	s.api.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(appCtx.Config().Web.JwtSecret),
	}))

	e.POST("/login", s.handleLogin)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ok"})
	})

	server = s
	return s
}

// Listen blocks serving HTTP on the configured address.
func (s *WebServer) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.app.Config().Web.Host, s.app.Config().Web.Port)
	zap.L().Info("webserver listening", zap.String("addr", addr))
	return s.root.Start(addr)
}

func (s *WebServer) handleLogin(c echo.Context) error {
	var payload struct {
		Username string `json:"username" form:"username"`
		Password string `json:"password" form:"password"`
	}
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"code": 1, "msg": "unable to parse request"})
	}
	var opr domain.SysOpr
	err := s.app.DB().Where("username = ? and status = ?", payload.Username, common.ENABLED).First(&opr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{"code": 1, "msg": "invalid username or password"})
	} else if err != nil {
		zap.L().Error("login query failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"code": 1, "msg": "internal error"})
	}
	if opr.Password != common.Sha256HashWithSalt(payload.Password, common.GetSecretSalt()) {
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{"code": 1, "msg": "invalid username or password"})
	}

	claims := &jwt.RegisteredClaims{
		Subject:   opr.Username,
		ID:        fmt.Sprintf("%d", opr.ID),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.app.Config().Web.JwtSecret))
	if err != nil {
		zap.L().Error("sign token failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"code": 1, "msg": "internal error"})
	}

	s.app.DB().Model(&domain.SysOpr{}).Where("id = ?", opr.ID).Update("last_login", time.Now())
	return c.JSON(http.StatusOK, map[string]interface{}{"code": 0, "token": signed})
}

// ApiGET registers an authenticated GET route under /api.
func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

// ApiPOST registers an authenticated POST route under /api.
func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

// ApiPUT registers an authenticated PUT route under /api.
func ApiPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h)
}

// ApiDELETE registers an authenticated DELETE route under /api.
func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}

// DBFromContext fetches the request-scoped gorm handle injected by middleware.
func DBFromContext(c echo.Context) *gorm.DB {
	return c.Get(dbContextKey).(*gorm.DB)
}
