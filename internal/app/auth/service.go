// Package auth 實作交易核心的外部協作者：
// 使用者註冊（建立零餘額的帳戶組與唯一帳號/卡號）與身分驗證 (JWT)。
// 交易引擎信任這裡解析出的使用者 ID，不再重複驗證。
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/openbank/openbank-core/internal/app/core/domain"
	"github.com/openbank/openbank-core/internal/app/core/usecase"
)

const (
	// DefaultTokenTTL Token 有效期（原系統為 30 天）
	DefaultTokenTTL = 30 * 24 * time.Hour

	// 帳號/卡號產生碰撞時的重試上限
	// 不假設亂數必然唯一：碰撞由唯一索引擋下，這裡重新產生再試
	maxGenerateAttempts = 5

	accountNumberLen = 10
	cardNumberLen    = 16
)

// Service 註冊與身分驗證服務
type Service struct {
	users    usecase.UserStore
	secret   []byte
	tokenTTL time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService 建立 auth 服務
//
// 參數:
//
//	users: 使用者主檔儲存
//	secret: JWT 簽章密鑰 (HS256)
//	logger: zerolog 實例
func NewService(users usecase.UserStore, secret []byte, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		secret:   secret,
		tokenTTL: DefaultTokenTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterInput 註冊請求
type RegisterInput struct {
	FirstName   string
	LastName    string
	NationalID  string
	Email       string
	PhoneNumber string
	Password    string
}

// Register 建立新使用者：驗證欄位、檢查重複、雜湊密碼、
// 產生唯一帳號與卡號，最後以四種餘額皆為零的狀態寫入
//
// 參數:
//
//	ctx: 上下文
//	in: 註冊請求
//
// 回傳:
//
//	*domain.User: 建立完成的使用者
//	error: ErrMissingFields / ErrUserExists 或基礎設施錯誤
func (s *Service) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	if in.FirstName == "" || in.LastName == "" || in.NationalID == "" || in.Email == "" || in.Password == "" {
		return nil, domain.ErrMissingFields
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	// 帳號可能與既有使用者碰撞（由儲存層唯一索引擋下），重新產生再試
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		accountNumber, err := generateAccountNumber()
		if err != nil {
			return nil, err
		}
		cardNumber, err := generateCardNumber()
		if err != nil {
			return nil, err
		}

		user := &domain.User{
			ID:            uuid.New(),
			FirstName:     in.FirstName,
			LastName:      in.LastName,
			NationalID:    in.NationalID,
			Email:         strings.ToLower(in.Email),
			PhoneNumber:   in.PhoneNumber,
			PasswordHash:  string(hash),
			AccountNumber: accountNumber,
			CardNumber:    cardNumber,
			CreatedAt:     s.now(),
		}

		err = s.users.CreateUser(ctx, user)
		if err == nil {
			s.logger.Info().
				Str("user_id", user.ID.String()).
				Str("account_number", accountNumber).
				Msg("user registered")
			return user, nil
		}
		if !errors.Is(err, domain.ErrUserExists) {
			return nil, err
		}
		// Email / 身分證號重複不是帳號碰撞，重試也沒用
		if existing, findErr := s.users.FindUserByEmail(ctx, in.Email); findErr == nil && existing != nil {
			return nil, domain.ErrUserExists
		}
		s.logger.Warn().Int("attempt", attempt).Msg("account number collision, regenerating")
	}
	return nil, domain.ErrUserExists
}

// LoginInput 登入請求
// 以身分證號為主要識別；未提供時退回以 Email 查找。
type LoginInput struct {
	NationalID string
	Email      string
	Password   string
}

// Login 驗證帳密並簽發 JWT
//
// 參數:
//
//	ctx: 上下文
//	in: 登入請求
//
// 回傳:
//
//	string: 簽發的 token
//	*domain.User: 登入的使用者
//	error: ErrInvalidCredentials
func (s *Service) Login(ctx context.Context, in LoginInput) (string, *domain.User, error) {
	user, err := s.findForLogin(ctx, in)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil, domain.ErrInvalidCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return "", nil, domain.ErrInvalidCredentials
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *Service) findForLogin(ctx context.Context, in LoginInput) (*domain.User, error) {
	switch {
	case in.NationalID != "":
		return s.users.FindUserByNationalID(ctx, in.NationalID)
	case in.Email != "":
		return s.users.FindUserByEmail(ctx, in.Email)
	}
	return nil, domain.ErrNotFound
}

// IssueToken 簽發 HS256 JWT，sub 為使用者 ID
// 註冊成功後的自動登入也走這裡。
func (s *Service) IssueToken(userID uuid.UUID) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify 驗證 token 並解析出使用者 ID
//
// 參數:
//
//	tokenString: 外部傳入的 JWT
//
// 回傳:
//
//	uuid.UUID: 已驗證的使用者 ID
//	error: 任何驗證失敗皆回傳 ErrUnauthorized
func (s *Service) Verify(tokenString string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return uuid.Nil, domain.ErrUnauthorized
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, domain.ErrUnauthorized
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return userID, nil
}

// generateAccountNumber 產生 10 碼帳號（首碼不為 0）。
func generateAccountNumber() (string, error) {
	return randomDigits(accountNumberLen, true)
}

// generateCardNumber 產生 16 碼卡號，每四碼以空白分組。
func generateCardNumber() (string, error) {
	raw, err := randomDigits(cardNumberLen, true)
	if err != nil {
		return "", err
	}
	groups := make([]string, 0, cardNumberLen/4)
	for i := 0; i < cardNumberLen; i += 4 {
		groups = append(groups, raw[i:i+4])
	}
	return strings.Join(groups, " "), nil
}

// randomDigits 以 crypto/rand 產生 n 碼數字字串。
func randomDigits(n int, leadingNonZero bool) (string, error) {
	const digits = "0123456789"
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	if leadingNonZero {
		buf[0] = '1' + buf[0]%9
	}
	for i := range buf {
		if leadingNonZero && i == 0 {
			continue
		}
		buf[i] = digits[int(buf[i])%10]
	}
	return string(buf), nil
}
