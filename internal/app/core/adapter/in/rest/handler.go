package rest

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/openbank/openbank-core/internal/app/auth"
	"github.com/openbank/openbank-core/internal/app/core/domain"
	"github.com/openbank/openbank-core/internal/app/core/usecase"
)

// registerRequest 對應原 API 的註冊欄位命名
type registerRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	NationalID  string `json:"saIdNumber"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// POST /api/auth/register
func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	user, err := s.auth.Register(c.Context(), auth.RegisterInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		NationalID:  req.NationalID,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Password:    req.Password,
	})
	if err != nil {
		return s.respondDomainError(c, err)
	}

	token, err := s.auth.IssueToken(user.ID)
	if err != nil {
		return s.respondDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(authPayload(user, token))
}

// loginRequest 登入以身分證號為主要識別，email 為相容用途的替代欄位
type loginRequest struct {
	NationalID string `json:"saIdNumber"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

// POST /api/auth/login
func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	token, user, err := s.auth.Login(c.Context(), auth.LoginInput{
		NationalID: req.NationalID,
		Email:      req.Email,
		Password:   req.Password,
	})
	if err != nil {
		return s.respondDomainError(c, err)
	}
	return c.JSON(authPayload(user, token))
}

// authPayload 註冊與登入共用的回應形狀
func authPayload(user *domain.User, token string) fiber.Map {
	return fiber.Map{
		"_id":   user.ID,
		"name":  user.FullName(),
		"email": user.Email,
		"token": token,
	}
}

// GET /api/user/profile
func (s *Server) handleGetProfile(c *fiber.Ctx) error {
	userID := currentUserID(c)
	user, err := s.users.FindUserByID(c.Context(), userID)
	if err != nil {
		return s.respondDomainError(c, err)
	}
	balances, err := s.engine.Balances(c.Context(), userID)
	if err != nil {
		return s.respondDomainError(c, err)
	}
	return c.JSON(fiber.Map{
		"id":               user.ID,
		"firstName":        user.FirstName,
		"lastName":         user.LastName,
		"email":            user.Email,
		"phoneNumber":      user.PhoneNumber,
		"accountNumber":    user.AccountNumber,
		"cardNumber":       user.CardNumber,
		"twoFactorEnabled": user.TwoFactorEnabled,
		"balances":         balancesPayload(balances),
	})
}

type updateProfileRequest struct {
	Email            string `json:"email"`
	PhoneNumber      string `json:"phoneNumber"`
	TwoFactorEnabled *bool  `json:"twoFactorEnabled"`
}

// PUT /api/user/profile
func (s *Server) handleUpdateProfile(c *fiber.Ctx) error {
	var req updateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	userID := currentUserID(c)
	user, err := s.users.FindUserByID(c.Context(), userID)
	if err != nil {
		return s.respondDomainError(c, err)
	}
	if req.Email != "" {
		user.Email = strings.ToLower(req.Email)
	}
	if req.PhoneNumber != "" {
		user.PhoneNumber = req.PhoneNumber
	}
	if req.TwoFactorEnabled != nil {
		user.TwoFactorEnabled = *req.TwoFactorEnabled
	}
	if err := s.users.UpdateUser(c.Context(), user); err != nil {
		return s.respondDomainError(c, err)
	}
	return c.JSON(fiber.Map{
		"id":               user.ID,
		"name":             user.FullName(),
		"email":            user.Email,
		"phoneNumber":      user.PhoneNumber,
		"twoFactorEnabled": user.TwoFactorEnabled,
	})
}

// createTransactionRequest 交易請求
// amount 可能是 JSON number 或字串，先收 RawMessage 再正規化。
type createTransactionRequest struct {
	Type        string          `json:"type"`
	Amount      json.RawMessage `json:"amount"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	AccountType string          `json:"accountType"`
	ToAccount   string          `json:"toAccountType"`
}

// POST /api/transactions
func (s *Server) handleCreateTransaction(c *fiber.Ctx) error {
	var req createTransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	title := req.Title
	if title == "" {
		title = req.Description
	}

	result, err := s.engine.CreateTransaction(c.Context(), currentUserID(c), usecase.CreateTransactionInput{
		Type:      req.Type,
		Amount:    rawAmount(req.Amount),
		Account:   req.AccountType,
		ToAccount: req.ToAccount,
		Title:     title,
	})
	if err != nil {
		return s.respondDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"balances":    balancesPayload(result.Balances),
		"transaction": recordPayload(result.Record),
	})
}

// GET /api/transactions
func (s *Server) handleListTransactions(c *fiber.Ctx) error {
	records, err := s.engine.ListTransactions(c.Context(), currentUserID(c))
	if err != nil {
		return s.respondDomainError(c, err)
	}
	out := make([]fiber.Map, 0, len(records))
	for i := range records {
		out = append(out, recordPayload(&records[i]))
	}
	return c.JSON(out)
}

// GET /api/transactions/balance/:accountType
func (s *Server) handleGetBalance(c *fiber.Ctx) error {
	result, err := s.engine.GetBalance(c.Context(), currentUserID(c), c.Params("accountType"))
	if err != nil {
		return s.respondDomainError(c, err)
	}
	return c.JSON(fiber.Map{
		"account": result.Account.Display(),
		"balance": domain.FormatAmount(result.Balance),
	})
}

// rawAmount 將 JSON 的 amount 欄位正規化成字串（容忍數字與帶引號兩種形式）。
func rawAmount(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	return strings.Trim(s, `"`)
}

// balancesPayload 餘額以固定兩位小數的字串輸出，避免浮點誤差。
func balancesPayload(b domain.Balances) fiber.Map {
	return fiber.Map{
		"savings":    domain.FormatAmount(b.Savings),
		"checking":   domain.FormatAmount(b.Checking),
		"business":   domain.FormatAmount(b.Business),
		"investment": domain.FormatAmount(b.Investment),
	}
}

// recordPayload 交易紀錄的 API 形狀（帳戶名稱首字大寫，轉帳才有 from/to）。
func recordPayload(rec *domain.Record) fiber.Map {
	payload := fiber.Map{
		"id":            rec.ID,
		"type":          rec.Type,
		"amount":        domain.FormatAmount(rec.Amount),
		"displayAmount": rec.DisplayAmount,
		"title":         rec.Title,
		"account":       rec.Account.Display(),
		"timestamp":     rec.CreatedAt,
	}
	if rec.Type == domain.TransactionTypeTransfer {
		payload["fromAccount"] = rec.FromAccount.Display()
		payload["toAccount"] = rec.ToAccount.Display()
	}
	return payload
}
