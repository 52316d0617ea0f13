// Пакет apiclient — HTTP-клиент compliance API.
//
// Две сетевые мутации подсистемы загрузки:
//   - Upload — multipart POST бинарного файла с минимальными метаданными
//   - Update — JSON PUT финальных метаданных по фиксированному id документа
//
// Плюс чтение справочника судов и выпуск подписанных preview-ссылок.
// Перед каждым вызовом — bearer-токен через TokenProvider; без действующей
// сессии вызов падает быстро, не доходя до сети.
package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/marinedocs/upload-module/internal/authclient"
	"github.com/bigkaa/marinedocs/upload-module/internal/domain/model"
)

// TokenProvider — функция, возвращающая bearer-токен для авторизации
// запросов к API. Обычно это authclient.Client.GetToken.
type TokenProvider func(ctx context.Context) (string, error)

// genericUploadError — запасной текст, когда backend не вернул
// осмысленное сообщение об ошибке.
const genericUploadError = "загрузка документа не удалась"

// Значения-заглушки минимальных метаданных первичной загрузки.
// isPermanent=true обходит серверную валидацию даты истечения
// до того, как пользователь подтвердит форму.
const (
	placeholderDocumentType = "Unknown"
	placeholderCategory     = "General"
)

// APIError — ошибка compliance API: не-2xx статус или тело без success.
// Message — сообщение сервера, если его удалось разобрать,
// иначе строка HTTP-статуса.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client — HTTP-клиент compliance API.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	tokenProvider TokenProvider
	logger        *slog.Logger
}

// New создаёт клиент compliance API.
// baseURL — базовый URL backend (например, https://api.example.com).
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// tokenProvider — функция получения bearer-токена (authclient.Client.GetToken).
func New(baseURL, caCertPath string, timeout time.Duration, tokenProvider TokenProvider, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата API: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат API добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		baseURL:       strings.TrimRight(baseURL, "/"),
		tokenProvider: tokenProvider,
		logger:        logger.With(slog.String("component", "api_client")),
	}, nil
}

// UploadInput — вход операции Upload.
type UploadInput struct {
	// VesselID — судно-владелец документа.
	VesselID string
	// Title — заголовок документа.
	Title string
	// FileName — исходное имя файла.
	FileName string
	// ContentType — MIME-тип файла.
	ContentType string
	// Body — содержимое файла.
	Body io.Reader
}

// UploadResult — результат успешной загрузки.
type UploadResult struct {
	// Record — запись документа, созданная backend.
	Record model.DocumentRecord
	// Extracted — метаданные AI-извлечения (nil, если извлечение не дало полей).
	Extracted *model.ExtractedMetadata
	// Classification — категория документа по версии backend.
	Classification string
	// Raw — сырое тело ответа (для диагностики).
	Raw json.RawMessage
}

// uploadResponse — формат ответа POST /api/documents/upload.
// Идентификатор может прийти как id, так и data.id.
type uploadResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Data    struct {
		ID string `json:"id"`
	} `json:"data"`
	Error             string                   `json:"error"`
	ExtractedMetadata *model.ExtractedMetadata `json:"extractedMetadata"`
	Classification    string                   `json:"classification"`
	FilePath          string                   `json:"file_path"`
}

// Upload выполняет multipart POST /api/documents/upload.
//
// Вместе с файлом передаётся минимальный набор метаданных: судно,
// заголовок и значения-заглушки (documentType=Unknown, category=General,
// isPermanent=true), чтобы серверная валидация не блокировала первичную,
// ещё не заполненную загрузку. Финальные метаданные фиксируются
// отдельным вызовом Update.
func (c *Client) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"vesselId":     in.VesselID,
		"title":        in.Title,
		"documentType": placeholderDocumentType,
		"category":     placeholderCategory,
		"isPermanent":  strconv.FormatBool(true),
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("запись поля %s: %w", name, err)
		}
	}

	part, err := createFilePart(mw, in.FileName, in.ContentType)
	if err != nil {
		return nil, fmt.Errorf("создание file part: %w", err)
	}
	if _, err := io.Copy(part, in.Body); err != nil {
		return nil, fmt.Errorf("копирование содержимого файла: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("завершение multipart body: %w", err)
	}

	reqURL := c.baseURL + "/api/documents/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("создание запроса Upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос Upload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа Upload: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiErrorFromBody(resp, body, genericUploadError)
	}

	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		// 2xx с нечитаемым телом — считаем неуспехом с запасным текстом
		return nil, &APIError{StatusCode: resp.StatusCode, Message: genericUploadError}
	}
	if !ur.Success {
		msg := ur.Error
		if msg == "" {
			msg = genericUploadError
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	id := ur.ID
	if id == "" {
		id = ur.Data.ID
	}
	if id == "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "backend не вернул идентификатор документа"}
	}

	c.logger.Debug("Документ загружен",
		slog.String("document_id", id),
		slog.String("vessel_id", in.VesselID),
		slog.Bool("extracted", ur.ExtractedMetadata != nil),
	)

	return &UploadResult{
		Record: model.DocumentRecord{
			ID:       id,
			VesselID: in.VesselID,
			Title:    in.Title,
			FilePath: ur.FilePath,
		},
		Extracted:      ur.ExtractedMetadata,
		Classification: ur.Classification,
		Raw:            json.RawMessage(body),
	}, nil
}

// updatePayload — формат тела PUT /api/documents/{id}.
// ExpiryDate — указатель с omitempty: бессрочный документ фиксируется
// без даты истечения независимо от значения в форме.
type updatePayload struct {
	Title             string  `json:"title"`
	DocumentType      string  `json:"documentType"`
	Issuer            string  `json:"issuer"`
	CertificateNumber string  `json:"certificateNumber"`
	IssueDate         string  `json:"issueDate"`
	ExpiryDate        *string `json:"expiryDate,omitempty"`
	IsPermanent       bool    `json:"isPermanent"`
}

// Update выполняет JSON PUT /api/documents/{id} — фиксацию финальных
// метаданных документа. Вызов безопасно повторяем по тому же id.
func (c *Client) Update(ctx context.Context, documentID string, form model.FormState) (*model.DocumentRecord, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := updatePayload{
		Title:             form.Title,
		DocumentType:      form.DocumentType,
		Issuer:            form.IssuingAuthority,
		CertificateNumber: form.DocumentNumber,
		IsPermanent:       form.IsPermanent,
	}
	if form.IssueDate != nil {
		payload.IssueDate = form.IssueDate.Format("2006-01-02")
	}
	if expiry := form.EffectiveExpiry(); expiry != nil {
		formatted := expiry.Format("2006-01-02")
		payload.ExpiryDate = &formatted
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("сериализация payload: %w", err)
	}

	reqURL := fmt.Sprintf("%s/api/documents/%s", c.baseURL, url.PathEscape(documentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("создание запроса Update: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос Update: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа Update: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiErrorFromBody(resp, body, resp.Status)
	}

	var ur struct {
		Document model.DocumentRecord `json:"document"`
	}
	if err := json.Unmarshal(body, &ur); err != nil {
		return nil, fmt.Errorf("декодирование ответа Update: %w", err)
	}
	if ur.Document.ID == "" {
		ur.Document.ID = documentID
	}

	c.logger.Debug("Метаданные документа зафиксированы",
		slog.String("document_id", documentID),
		slog.Bool("is_permanent", form.IsPermanent),
	)

	return &ur.Document, nil
}

// ListVessels возвращает справочник судов для выбора судна-владельца.
// filter — подстрока поиска (пустая строка — весь справочник).
func (c *Client) ListVessels(ctx context.Context, filter string) ([]model.Vessel, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "/api/vessels"
	if filter != "" {
		reqURL += "?search=" + url.QueryEscape(filter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса ListVessels: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос ListVessels: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apiErrorFromBody(resp, body, resp.Status)
	}

	var vr struct {
		Vessels []model.Vessel `json:"vessels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("декодирование ответа ListVessels: %w", err)
	}

	return vr.Vessels, nil
}

// PreviewURL запрашивает подписанную (time-limited) ссылку предпросмотра
// для файла в хранилище backend. Подписью управляет backend, клиент
// только отображает результат.
func (c *Client) PreviewURL(ctx context.Context, filePath string) (string, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(map[string]string{"filePath": filePath})
	if err != nil {
		return "", fmt.Errorf("сериализация payload: %w", err)
	}

	reqURL := c.baseURL + "/api/documents/preview-url"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("создание запроса PreviewURL: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "", fmt.Errorf("запрос PreviewURL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", apiErrorFromBody(resp, body, resp.Status)
	}

	var pr struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("декодирование ответа PreviewURL: %w", err)
	}
	if pr.URL == "" {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "backend не вернул preview URL"}
	}

	return pr.URL, nil
}

// bearerToken получает токен через TokenProvider.
// nil provider эквивалентен отсутствию сессии.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	if c.tokenProvider == nil {
		return "", fmt.Errorf("%w: token provider не задан", authclient.ErrAuthRequired)
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return "", fmt.Errorf("получение токена: %w", err)
	}
	return token, nil
}

// apiErrorFromBody строит APIError из тела ответа.
// Backend может вернуть не-JSON тело для части классов ошибок —
// в этом случае берётся fallback (обычно строка HTTP-статуса),
// без необработанной ошибки разбора.
func apiErrorFromBody(resp *http.Response, body []byte, fallback string) error {
	var er struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: fallback}
}

// createFilePart создаёт multipart part файла с явным Content-Type.
// Стандартный CreateFormFile всегда ставит application/octet-stream.
func createFilePart(mw *multipart.Writer, fileName, contentType string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	return mw.CreatePart(h)
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
