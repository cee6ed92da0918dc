package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"quantumchat/chat"
	"quantumchat/config"
	"quantumchat/middleware"
	"quantumchat/models"
	"quantumchat/services"
	"quantumchat/utils"
)

const minPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type AuthHandler struct {
	cfg       *config.Config
	db        *gorm.DB
	lockout   *services.LoginLockout
	transport services.TokenTransport
	resets    services.ResetTokens
	google    *services.GoogleUserinfo
	kv        chat.KV
}

func NewAuthHandler(
	cfg *config.Config,
	db *gorm.DB,
	lockout *services.LoginLockout,
	transport services.TokenTransport,
	resets services.ResetTokens,
	google *services.GoogleUserinfo,
	kv chat.KV,
) *AuthHandler {
	return &AuthHandler{
		cfg:       cfg,
		db:        db,
		lockout:   lockout,
		transport: transport,
		resets:    resets,
		google:    google,
		kv:        kv,
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type googleRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
}

type socialRequest struct {
	Provider string `json:"provider" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetPasswordRequest struct {
	Email    string `json:"email" binding:"required"`
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type planRequest struct {
	Pro *int `json:"pro" binding:"required"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please provide username, email and password"})
		return
	}

	email := normalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)
	if !emailPattern.MatchString(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please provide a valid email"})
		return
	}
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please provide a username"})
		return
	}
	if len(req.Password) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 6 characters"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	err = h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errEmailTaken
		}
		return tx.Create(&models.User{
			Username:     username,
			Email:        email,
			PasswordHash: string(hash),
			Provider:     models.ProviderLocal,
		}).Error
	})
	if errors.Is(err, errEmailTaken) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User with this email already exists"})
		return
	}
	if err != nil {
		middleware.Logger(c).Error("register failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Registration successful"})
}

var errEmailTaken = errors.New("email taken")

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please provide email and password"})
		return
	}
	email := normalizeEmail(req.Email)
	ctx := c.Request.Context()

	// Check lockout BEFORE any DB/bcrypt work
	if locked, remaining := h.lockout.IsLocked(ctx, email); locked {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "Account temporarily locked due to too many failed attempts",
			"retry_after_seconds": remaining,
		})
		return
	}

	// Dummy hash for constant-time response when user not found
	dummyHash := []byte("$2a$10$0000000000000000000000uAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	var user models.User
	userFound := h.db.WithContext(ctx).Where("email = ?", email).First(&user).Error == nil

	if !userFound || user.PasswordHash == "" {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		h.lockout.RecordFailure(ctx, email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.lockout.RecordFailure(ctx, email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	h.lockout.RecordSuccess(ctx, email)
	h.issueSession(c, user)
}

// Logout also drops the caller's cached chat snapshot when the token is
// still valid.
func (h *AuthHandler) Logout(c *gin.Context) {
	if token := services.ExtractToken(c); token != "" && h.kv != nil {
		if claims, err := utils.ParseToken(h.cfg.JWTSecret, token); err == nil {
			if err := chat.NewCache(h.kv, claims.UserID.String()).Clear(c.Request.Context()); err != nil {
				middleware.Logger(c).Warn("clearing chat cache failed", "error", err)
			}
		}
	}
	h.transport.Clear(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	var user models.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, "id = ?", middleware.UserID(c)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, userResponse(user))
}

// Google signs in with a Google OAuth access token, creating the account
// on first use.
func (h *AuthHandler) Google(c *gin.Context) {
	var req googleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	profile, err := h.google.Fetch(c.Request.Context(), req.AccessToken)
	if err != nil {
		middleware.Logger(c).Warn("google sign-in rejected", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Google authentication failed"})
		return
	}

	user, err := h.findOrCreate(c, profile.Email, profile.Name, models.ProviderGoogle)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	h.issueSession(c, user)
}

// Social is a mocked provider login for development.
func (h *AuthHandler) Social(c *gin.Context) {
	if !h.cfg.SocialLoginMock {
		c.JSON(http.StatusNotFound, gin.H{"error": "Social login is disabled"})
		return
	}

	var req socialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	email := normalizeEmail(req.Email)
	if !emailPattern.MatchString(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please provide a valid email"})
		return
	}

	user, err := h.findOrCreate(c, email, req.Name, strings.ToLower(req.Provider))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	h.issueSession(c, user)
}

// ForgotPassword always answers 200 so the response does not reveal
// which emails are registered.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please provide an email"})
		return
	}
	email := normalizeEmail(req.Email)
	ctx := c.Request.Context()
	log := middleware.Logger(c)

	var user models.User
	if err := h.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err == nil {
		token, err := h.resets.Issue(ctx, email)
		if err != nil {
			log.Error("issue reset token failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		// no mailer: the link is logged for the operator
		log.Info("password reset requested", "email", email,
			"link", h.cfg.ClientURL+"/login?reset_token="+token+"&email="+email)
	}

	c.JSON(http.StatusOK, gin.H{"message": "If that email is registered, a reset link has been sent"})
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if len(req.Password) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 6 characters"})
		return
	}
	email := normalizeEmail(req.Email)
	ctx := c.Request.Context()

	if err := h.resets.Consume(ctx, email, req.Token); err != nil {
		if errors.Is(err, services.ErrInvalidResetToken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired reset token"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}
	res := h.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Update("password_hash", string(hash))
	if res.Error != nil || res.RowsAffected == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired reset token"})
		return
	}
	h.lockout.RecordSuccess(ctx, email)

	c.JSON(http.StatusOK, gin.H{"message": "Password has been reset"})
}

func (h *AuthHandler) UpdatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil || (*req.Pro != 0 && *req.Pro != 1) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pro must be 0 or 1"})
		return
	}

	db := h.db.WithContext(c.Request.Context())
	var user models.User
	if err := db.First(&user, "id = ?", middleware.UserID(c)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err := db.Model(&user).Update("pro", *req.Pro).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	user.Pro = *req.Pro
	c.JSON(http.StatusOK, userResponse(user))
}

func (h *AuthHandler) findOrCreate(c *gin.Context, email, name, provider string) (models.User, error) {
	db := h.db.WithContext(c.Request.Context())
	email = normalizeEmail(email)

	var user models.User
	err := db.Where("email = ?", email).First(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return user, err
	}

	if name = strings.TrimSpace(name); name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	user = models.User{Username: name, Email: email, Provider: provider}
	if err := db.Create(&user).Error; err != nil {
		middleware.Logger(c).Error("create social user failed", "provider", provider, "error", err)
		return user, err
	}
	return user, nil
}

func (h *AuthHandler) issueSession(c *gin.Context, user models.User) {
	token, err := utils.GenerateAccessToken(h.cfg.JWTSecret, user.ID, user.Username, h.cfg.JWTExpiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	h.transport.Issue(c, token)

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"transport": h.transport.Name(),
		"user":      userResponse(user),
	})
}

func userResponse(u models.User) gin.H {
	return gin.H{
		"id":       u.ID,
		"username": u.Username,
		"email":    u.Email,
		"provider": u.Provider,
		"pro":      u.Pro,
	}
}
