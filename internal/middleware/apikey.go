package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyConfig конфигурация для API key аутентификации
type APIKeyConfig struct {
	// ValidKeys карта валидных API ключей к их описаниям
	ValidKeys map[string]string
	// HeaderName имя заголовка для API ключа (по умолчанию: X-API-Key)
	HeaderName string
}

// APIKey middleware для аутентификации по API ключу
type APIKey struct {
	config APIKeyConfig
}

// NewAPIKey создаёт новый API key middleware
func NewAPIKey(config APIKeyConfig) *APIKey {
	if config.HeaderName == "" {
		config.HeaderName = "X-API-Key"
	}
	return &APIKey{config: config}
}

// Middleware возвращает Gin middleware handler для API key аутентификации
func (ak *APIKey) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(ak.config.HeaderName)

		// Также проверяем query параметр как запасной вариант
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}

		// Также проверяем заголовок Authorization с Bearer схемой
		if apiKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				apiKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_api_key",
				"message": "Требуется API ключ. Передайте его через заголовок X-API-Key, query параметр api_key или Authorization: Bearer",
			})
			c.Abort()
			return
		}

		// Валидация API ключа с использованием constant-time comparison
		valid := false
		var keyName string
		for validKey, name := range ak.config.ValidKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
				valid = true
				keyName = name
				break
			}
		}

		if !valid {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_api_key",
				"message": "Невалидный API ключ",
			})
			c.Abort()
			return
		}

		// Устанавливаем значения в контекст для последующих handlers
		c.Set("api_key_validated", true)
		c.Set("api_key_name", keyName)

		c.Next()
	}
}

// RequireAPIKey хелпер для создания middleware, требующего API ключ для определённых роутов
func RequireAPIKey(validKeys map[string]string) gin.HandlerFunc {
	ak := NewAPIKey(APIKeyConfig{
		ValidKeys:  validKeys,
		HeaderName: "X-API-Key",
	})
	return ak.Middleware()
}
