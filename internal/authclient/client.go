// Пакет authclient — получение и кэширование bearer-токена для
// запросов к compliance API.
//
// Токен запрашивается через client_credentials grant к token endpoint
// платформы. Клиент — единственный читатель токена; сам токен никогда
// не изменяется, только перезапрашивается по истечении. Отсутствие
// учётных данных или отказ в выдаче токена — ErrAuthRequired:
// сетевые мутации при этом не выполняются.
package authclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthRequired — нет действующей сессии: учётные данные не заданы
// или token endpoint отказал. Не повторяется автоматически —
// пользователю нужно войти заново.
var ErrAuthRequired = errors.New("требуется аутентификация")

// expirySlack — запас до истечения токена, после которого токен
// считается устаревшим и перезапрашивается.
const expirySlack = 30 * time.Second

// tokenInfo — закэшированный токен с временем истечения.
type tokenInfo struct {
	accessToken string
	expiresAt   time.Time
}

// Client — клиент token endpoint compliance-платформы.
type Client struct {
	httpClient   *http.Client
	authURL      string
	clientID     string
	clientSecret string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	logger       *slog.Logger

	// Кэш токена (thread-safe)
	mu    sync.RWMutex
	token *tokenInfo
}

// New создаёт auth-клиент.
// authURL — базовый URL платформы (token endpoint: {authURL}/auth/token).
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(
	authURL string,
	caCertPath string,
	timeout time.Duration,
	clientID string,
	clientSecret string,
	logger *slog.Logger,
) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата auth: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат auth добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		httpClient:   httpClient,
		authURL:      strings.TrimRight(authURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger.With(slog.String("component", "auth_client")),
	}, nil
}

// GetToken возвращает действующий bearer-токен.
// Использует кэш: если токен ещё валиден (exp - 30s), возвращает
// закэшированный, иначе запрашивает новый через client_credentials grant.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	// Проверяем кэш (read lock)
	c.mu.RLock()
	if c.token != nil && time.Now().Before(c.token.expiresAt) {
		token := c.token.accessToken
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	if c.clientID == "" || c.clientSecret == "" {
		return "", fmt.Errorf("%w: учётные данные не заданы", ErrAuthRequired)
	}

	// Запрашиваем новый токен (write lock)
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check после получения write lock
	if c.token != nil && time.Now().Before(c.token.expiresAt) {
		return c.token.accessToken, nil
	}

	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	return token, nil
}

// Invalidate сбрасывает закэшированный токен.
// Используется после ответа 401 от API — следующий вызов GetToken
// запросит новый токен.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

// requestToken запрашивает новый токен через client_credentials grant.
// Вызывается под write lock.
func (c *Client) requestToken(ctx context.Context) (string, error) {
	tokenURL := c.authURL + "/auth/token"

	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("создание запроса token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "", fmt.Errorf("запрос token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: token endpoint вернул статус %d", ErrAuthRequired, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token endpoint вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		Token     string `json:"access_token"` //nolint:gosec // G117: JSON-маппинг OAuth2 ответа
		ExpiresIn int    `json:"expires_in"`
		TokenType string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("декодирование token response: %w", err)
	}

	if tokenResp.Token == "" {
		return "", fmt.Errorf("%w: пустой access_token в ответе", ErrAuthRequired)
	}

	expiresAt := tokenExpiry(tokenResp.Token, tokenResp.ExpiresIn)

	// Кэшируем токен (с запасом до истечения)
	c.token = &tokenInfo{
		accessToken: tokenResp.Token,
		expiresAt:   expiresAt,
	}

	c.logger.Debug("Токен получен",
		slog.Int("expires_in", tokenResp.ExpiresIn),
		slog.Time("expires_at", expiresAt),
	)

	return tokenResp.Token, nil
}

// tokenExpiry вычисляет время истечения токена.
// Приоритет — expires_in из ответа; если его нет, берётся claim exp
// из самого JWT (без проверки подписи — подпись проверяет backend).
// Если и это невозможно — консервативный минутный TTL.
func tokenExpiry(token string, expiresIn int) time.Time {
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn)*time.Second - expirySlack)
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time.Add(-expirySlack)
		}
	}

	return time.Now().Add(time.Minute - expirySlack)
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
