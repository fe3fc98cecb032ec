// Package rest 是對外的 HTTP adapter (fiber)
// 路由對應原系統的 REST API；這一層只做輸入轉換、身分驗證與
// 錯誤對應，所有商業規則都在交易引擎內。
package rest

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openbank/openbank-core/internal/app/auth"
	"github.com/openbank/openbank-core/internal/app/core/domain"
	"github.com/openbank/openbank-core/internal/app/core/usecase"
)

// localsUserID fiber Locals 內存放已驗證使用者 ID 的 key
const localsUserID = "userID"

// Server HTTP 伺服器
type Server struct {
	app    *fiber.App
	engine *usecase.Engine
	auth   *auth.Service
	users  usecase.UserStore
	logger zerolog.Logger
}

// NewServer 建立 HTTP 伺服器並註冊所有路由
//
// 參數:
//
//	engine: 交易引擎
//	authSvc: 註冊/身分驗證服務
//	users: 使用者主檔儲存（profile 用）
//	logger: zerolog 實例
func NewServer(engine *usecase.Engine, authSvc *auth.Service, users usecase.UserStore, logger zerolog.Logger) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ErrorHandler:          fiberErrorHandler,
		}),
		engine: engine,
		auth:   authSvc,
		users:  users,
		logger: logger,
	}
	s.routes()
	return s
}

// App 回傳底層 fiber App（測試用 app.Test）。
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen 開始監聽；阻塞直到 Shutdown。
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown 優雅關閉，等待進行中的請求完成。
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) routes() {
	s.app.Use(s.requestLogger)

	api := s.app.Group("/api")

	api.Post("/auth/register", s.handleRegister)
	api.Post("/auth/login", s.handleLogin)

	user := api.Group("/user", s.requireAuth)
	user.Get("/profile", s.handleGetProfile)
	user.Put("/profile", s.handleUpdateProfile)

	tx := api.Group("/transactions", s.requireAuth)
	tx.Post("/", s.handleCreateTransaction)
	tx.Get("/", s.handleListTransactions)
	tx.Get("/balance/:accountType", s.handleGetBalance)
}

// requestLogger 請求層級的結構化 log
func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Info().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("elapsed", time.Since(start)).
		Msg("request")
	return err
}

// requireAuth 解析 Authorization: Bearer 並驗證 JWT
// 驗證通過後把使用者 ID 放進 Locals 供 handler 取用。
func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return respondError(c, fiber.StatusUnauthorized, "Not authorized, no token")
	}
	userID, err := s.auth.Verify(token)
	if err != nil {
		return respondError(c, fiber.StatusUnauthorized, "Not authorized, token failed")
	}
	c.Locals(localsUserID, userID)
	return c.Next()
}

// currentUserID 取出 requireAuth 放入的使用者 ID。
func currentUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(localsUserID).(uuid.UUID)
	return id
}

// fiberErrorHandler fiber 內部錯誤（如 body 過大）的最後防線。
func fiberErrorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return respondError(c, fiberErr.Code, fiberErr.Message)
	}
	return respondError(c, fiber.StatusInternalServerError, "Server Error")
}

func respondError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"message": message})
}

// respondDomainError 將領域錯誤對應到 HTTP 狀態碼
// 基礎設施錯誤一律回傳不帶內部細節的 500。
func (s *Server) respondDomainError(c *fiber.Ctx, err error) error {
	switch {
	case domain.IsValidationError(err), domain.IsBusinessRuleError(err):
		return respondError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUserExists):
		return respondError(c, fiber.StatusBadRequest, "User already exists with this ID or Email")
	case errors.Is(err, domain.ErrNotFound):
		return respondError(c, fiber.StatusNotFound, "User not found")
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidCredentials):
		return respondError(c, fiber.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, domain.ErrConflict):
		return respondError(c, fiber.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("internal error")
		return respondError(c, fiber.StatusInternalServerError, "Server Error")
	}
}
