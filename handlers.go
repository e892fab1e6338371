package main

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"image"
	"io"
	"log"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"cupomapi/models"
	"cupomapi/pkg/cte"
	"cupomapi/pkg/cupom"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// pipe is the process-wide extraction pipeline; stateless, safe for
// concurrent requests.
var pipe *cupom.Pipeline

func setupRoutes(r *gin.Engine) {
	if pipe == nil {
		pipe = cupom.New(cupom.NewTesseract())
	}
	r.POST("/register", registerHandler)
	r.POST("/login", loginHandler)
	r.POST("/refresh", refreshHandler)
	r.POST("/revoke_refresh", revokeRefreshHandler)

	r.POST("/extrair-valor", extractValueHandler)
	r.POST("/debug-processamento", debugPipelineHandler)
	r.POST("/extrair-cte-qrcode", extractCTeHandler)

	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("/me", meHandler)
	authGroup.GET("/extractions", listExtractionsHandler)
}

// readImageUpload validates and reads the multipart "file" field. The
// content-type check runs before any pipeline stage.
func readImageUpload(c *gin.Context) (*multipart.FileHeader, []byte, bool) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return nil, nil, false
	}
	if file.Size > 10*1024*1024 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large (max 10MB)"})
		return nil, nil, false
	}
	ct := file.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file is not an image"})
		return nil, nil, false
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read failed"})
		return nil, nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read failed"})
		return nil, nil, false
	}
	return file, data, true
}

// extractValueHandler receives a receipt photograph and responds with the
// extracted total. ErrNoTotal maps to 404 so clients can prompt for a
// retake instead of treating it as a server fault.
func extractValueHandler(c *gin.Context) {
	file, data, ok := readImageUpload(c)
	if !ok {
		return
	}
	debug := c.DefaultQuery("debug", "false") == "true" || c.PostForm("debug") == "true"

	res, err := pipe.Run(data)
	recordExtraction(bearerUserID(c), file.Filename, models.SourceAPI, res, err)
	if err != nil {
		switch {
		case errors.Is(err, cupom.ErrNotImage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file is not a decodable image"})
		case errors.Is(err, cupom.ErrNoTotal):
			c.JSON(http.StatusNotFound, gin.H{"error": "could not find the total value on the receipt"})
		default:
			log.Printf("extract-valor: processing error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "error processing the image"})
		}
		return
	}
	resp := gin.H{"valor_total": res.Total}
	if debug {
		resp["texto_extraido"] = cupom.Snippet(res.RawText, cupom.RawTextCap)
	}
	c.JSON(http.StatusOK, resp)
}

// debugPipelineHandler exposes intermediate pipeline artifacts as compact
// base64 thumbnails. Diagnostic only; not meant for production traffic.
func debugPipelineHandler(c *gin.Context) {
	_, data, ok := readImageUpload(c)
	if !ok {
		return
	}
	arts, err := pipe.Inspect(data)
	if err != nil {
		if errors.Is(err, cupom.ErrNotImage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file is not a decodable image"})
			return
		}
		log.Printf("debug-processamento: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error processing the image"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"imagem_original":  jpegBase64(arts.Original),
		"imagem_cortada":   jpegBase64(arts.Cropped),
		"imagem_melhorada": jpegBase64(arts.Enhanced),
		"texto_extraido":   arts.RawText,
	})
}

// extractCTeHandler decodes a CT-e QR code, fetches the consultation page
// and returns the scraped document.
func extractCTeHandler(c *gin.Context) {
	file, data, ok := readImageUpload(c)
	if !ok {
		return
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file is not a decodable image"})
		return
	}
	url, err := cte.DecodeQR(img)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no qr code found in the image"})
		return
	}
	if !cte.LooksLikeConsultaURL(url) {
		log.Printf("extract-cte: decoded url does not look like a consultation page: %s", url)
	}
	doc, err := cte.Fetch(c.Request.Context(), url)
	if err != nil {
		if errors.Is(err, cte.ErrNoData) {
			c.JSON(http.StatusNotFound, gin.H{"error": "could not extract cte data from the page"})
			return
		}
		log.Printf("extract-cte: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error fetching or parsing the cte page"})
		return
	}
	var res cupom.Result
	if v, ok := doc.Valores["valor_total"]; ok {
		res.Total = v
		res.TotalCents = int64(math.Round(v * 100))
	}
	recordExtraction(bearerUserID(c), file.Filename, models.SourceCTe, res, nil)
	c.JSON(http.StatusOK, doc)
}

// bearerUserID resolves an optional Authorization header to a user id. The
// extraction endpoints stay public, but a caller presenting a valid token
// gets the row attributed so it shows up in their history.
func bearerUserID(c *gin.Context) *uint {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
		return nil
	}
	token, err := jwt.Parse(authHeader[7:], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	username, _ := claims["username"].(string)
	if username == "" || db == nil {
		return nil
	}
	var user models.User
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil
	}
	id := user.ID
	return &id
}

// recordExtraction persists one pipeline outcome best-effort; history must
// never fail a request.
func recordExtraction(userID *uint, fileName, source string, res cupom.Result, runErr error) {
	if db == nil {
		return
	}
	ex := models.Extraction{
		UserID:     userID,
		FileName:   fileName,
		TotalCents: res.TotalCents,
		RawText:    cupom.Snippet(res.RawText, 1000),
		Source:     source,
	}
	if runErr != nil {
		ex.Failed = true
		ex.FailReason = cupom.Snippet(runErr.Error(), 255)
	}
	if err := db.Create(&ex).Error; err != nil {
		log.Printf("record extraction: %v", err)
	}
}

// listExtractionsHandler returns extraction history; admin sees all rows.
func listExtractionsHandler(c *gin.Context) {
	role, _ := c.Get("role")
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var items []models.Extraction
	q := db.Model(&models.Extraction{})
	if role != "administrator" {
		q = q.Where("user_id = ?", user.ID)
	}
	if err := q.Order("id desc").Limit(200).Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func jpegBase64(img image.Image) string {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(75)); err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		tokenString := authHeader[7:]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		username, _ := claims["username"].(string)
		role, _ := claims["role"].(string)
		c.Set("username", username)
		if role != "" {
			c.Set("role", role)
		}
		c.Next()
	}
}

func meHandler(c *gin.Context) {
	usernameVal, _ := c.Get("username")
	if usernameVal == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "context missing username"})
		return
	}
	username := usernameVal.(string)
	c.JSON(http.StatusOK, gin.H{"username": username})
}

// getUserFromContext fetches the currently authenticated user using the username set by jwtAuthMiddleware
func getUserFromContext(c *gin.Context) (*models.User, bool) {
	unameVal, _ := c.Get("username")
	if unameVal == nil {
		return nil, false
	}
	uname := unameVal.(string)
	var user models.User
	if err := db.Where("username = ?", uname).First(&user).Error; err != nil {
		return nil, false
	}
	return &user, true
}

func registerHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := RegisterUser(req.Username, req.Password); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user registered successfully"})
}

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := Authenticate(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	// Generate JWT token. Resolve role name from RoleID (we only store role_id).
	roleName := ""
	if user.RoleID != nil {
		var r models.Role
		if err := db.First(&r, *user.RoleID).Error; err == nil {
			roleName = r.Name
		}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": user.Username,
		"role":     roleName,
		"exp":      time.Now().Add(time.Hour * 24).Unix(),
	})
	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	refreshToken, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "token": tokenString, "refresh_token": refreshToken})
}

// createAndStoreRefreshToken generates a random refresh token, stores its hash with expiry and returns the raw token string
func createAndStoreRefreshToken(userID uint) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	rt := models.RefreshToken{UserID: userID, TokenHash: th, ExpiresAt: time.Now().Add(30 * 24 * time.Hour)}
	if err := db.Create(&rt).Error; err != nil {
		return "", err
	}
	return token, nil
}

// helper to find refresh token record by raw token string
func findRefreshTokenByRaw(token string) (*models.RefreshToken, error) {
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	var rt models.RefreshToken
	if err := db.Where("token_hash = ?", th).First(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	var user models.User
	if err := db.First(&user, rt.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	roleName := ""
	if user.RoleID != nil {
		var r models.Role
		if err := db.First(&r, *user.RoleID).Error; err == nil {
			roleName = r.Name
		}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": user.Username,
		"role":     roleName,
		"exp":      time.Now().Add(15 * time.Minute).Unix(),
	})
	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// rotate refresh token: revoke existing and create new one
	db.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true)
	newRT, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "refresh_token": newRT})
}

// revokeRefreshHandler revokes a given refresh token (useful on logout)
func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	rt.Revoked = true
	if err := db.Save(rt).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}
