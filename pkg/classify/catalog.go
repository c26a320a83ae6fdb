package classify

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Templates holds the localized message templates for every error kind.
// Each template documents the verbs it is formatted with.
type Templates struct {
	// Timeout is formatted with the per-page timeout in whole seconds (%d).
	Timeout string

	// SessionTimeout is formatted with the session budget (%s).
	SessionTimeout string

	// TLS takes no arguments.
	TLS string

	// Network is formatted with the raw transport diagnostic (%s).
	Network string

	// RemoteServer is formatted with the HTTP status code (%d).
	RemoteServer string

	// UnknownRemote is formatted with the remote code and description (%s, %s).
	UnknownRemote string

	// UnknownDescription is used when the remote sends no error_description.
	UnknownDescription string

	// Malformed is formatted with a bounded prefix of the body (%s).
	Malformed string

	// MissingResult takes no arguments.
	MissingResult string

	// Empty takes no arguments.
	Empty string

	// RateLimited is formatted with the seconds until retry (%d).
	RateLimited string

	// MethodNotAllowed takes no arguments.
	MethodNotAllowed string

	// NotConfigured takes no arguments.
	NotConfigured string

	// InvalidEndpoint is formatted with the validation reason (%s).
	InvalidEndpoint string

	// InvalidParameter is formatted with the query parameter name (%s).
	InvalidParameter string

	// Upstream is the fallback for failures without a classified message.
	Upstream string
}

// Catalog is an open mapping from remote error codes to localized, actionable
// messages plus the templates for every other kind. It is safe for
// concurrent use; new vendor codes are added with Register.
type Catalog struct {
	Templates Templates

	mu    sync.RWMutex
	codes map[string]string
}

// NewCatalog creates a catalog from templates and an initial code table.
func NewCatalog(t Templates, codes map[string]string) *Catalog {
	c := &Catalog{
		Templates: t,
		codes:     make(map[string]string, len(codes)),
	}
	for code, msg := range codes {
		c.codes[code] = msg
	}
	return c
}

// Register adds or replaces the message for a remote error code.
func (c *Catalog) Register(code, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[code] = message
}

// Lookup returns the message registered for code.
func (c *Catalog) Lookup(code string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msg, ok := c.codes[code]
	return msg, ok
}

// Codes returns the registered codes in sorted order.
func (c *Catalog) Codes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	codes := make([]string, 0, len(c.codes))
	for code := range c.codes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// RemoteMessage returns the mapped message for code, or the generic template
// embedding the code and description.
func (c *Catalog) RemoteMessage(code, description string) string {
	if msg, ok := c.Lookup(code); ok {
		return msg
	}
	if description == "" {
		description = c.Templates.UnknownDescription
	}
	return fmt.Sprintf(c.Templates.UnknownRemote, code, description)
}

func (c *Catalog) timeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf(c.Templates.Timeout, int(timeout.Round(time.Second)/time.Second))
}

// Known remote error codes.
const (
	CodeInsufficientScope = "insufficient_scope"
	CodeInvalidToken      = "invalid_token"
	CodeExpiredToken      = "expired_token"
	CodeMethodNotFound    = "ERROR_METHOD_NOT_FOUND"
	CodeQueryLimit        = "QUERY_LIMIT_EXCEEDED"
	CodeAccessDenied      = "ACCESS_DENIED"
	CodeNoAuthFound       = "NO_AUTH_FOUND"
)

// Russian returns the default catalog. The hosted service's primary
// audience reads Russian.
func Russian() *Catalog {
	return NewCatalog(Templates{
		Timeout:            "Таймаут запроса к Bitrix24 (%d сек)",
		SessionTimeout:     "Превышено общее время загрузки данных из Bitrix24 (%s)",
		TLS:                "Ошибка SSL-соединения с Bitrix24",
		Network:            "Ошибка соединения с Bitrix24: %s",
		RemoteServer:       "Сервер Bitrix24 вернул ошибку %d. Сервис может быть временно недоступен.",
		UnknownRemote:      "Ошибка Bitrix24 [%s]: %s",
		UnknownDescription: "Неизвестная ошибка Bitrix24",
		Malformed:          "Bitrix24 вернул некорректный JSON: %s",
		MissingResult:      `Bitrix24 вернул ответ без поля "result"`,
		Empty:              "Пустой ответ от Bitrix24. Проверьте корректность вебхука.",
		RateLimited:        "Слишком частые запросы. Попробуйте через %d секунды.",
		MethodNotAllowed:   "Только GET-запросы разрешены",
		NotConfigured:      "BITRIX24_WEBHOOK_URL не настроен в .env",
		InvalidEndpoint:    "Некорректный URL вебхука Bitrix24: %s",
		InvalidParameter:   "Некорректное значение параметра %s",
		Upstream:           "Неизвестная ошибка при работе с Bitrix24",
	}, map[string]string{
		CodeInsufficientScope: "У вебхука нет прав на просмотр компаний. Обновите права в Bitrix24: Настройки → REST API → ваш токен → права на CRM → Компании → Просмотр.",
		CodeInvalidToken:      "Токен вебхука недействителен. Скопируйте актуальный URL из Bitrix24: Настройки → REST API.",
		CodeExpiredToken:      "Срок действия токена истёк. Создайте новый вебхук в Bitrix24: Настройки → REST API.",
		CodeMethodNotFound:    "Метод crm.company.list не найден. Проверьте, что URL вебхука заканчивается на crm.company.list.",
		CodeQueryLimit:        "Превышен лимит запросов к Bitrix24. Повторите попытку через несколько секунд.",
		CodeAccessDenied:      "Доступ к REST API запрещён. Проверьте тариф портала и права пользователя вебхука.",
		CodeNoAuthFound:       "Вебхук не найден. Проверьте идентификатор пользователя и токен в URL.",
	})
}

// English returns an English catalog.
func English() *Catalog {
	return NewCatalog(Templates{
		Timeout:            "Bitrix24 request timed out (%d s)",
		SessionTimeout:     "Loading data from Bitrix24 exceeded the time budget (%s)",
		TLS:                "SSL connection to Bitrix24 failed",
		Network:            "Could not connect to Bitrix24: %s",
		RemoteServer:       "Bitrix24 server returned error %d. The service may be temporarily unavailable.",
		UnknownRemote:      "Bitrix24 error [%s]: %s",
		UnknownDescription: "Unknown Bitrix24 error",
		Malformed:          "Bitrix24 returned invalid JSON: %s",
		MissingResult:      `Bitrix24 returned a response without a "result" field`,
		Empty:              "Empty response from Bitrix24. Check the webhook URL.",
		RateLimited:        "Too many requests. Try again in %d seconds.",
		MethodNotAllowed:   "Only GET requests are allowed",
		NotConfigured:      "BITRIX24_WEBHOOK_URL is not configured in .env",
		InvalidEndpoint:    "Invalid Bitrix24 webhook URL: %s",
		InvalidParameter:   "Invalid value for parameter %s",
		Upstream:           "Unknown error while talking to Bitrix24",
	}, map[string]string{
		CodeInsufficientScope: "The webhook has no permission to read companies. Update it in Bitrix24: Settings → REST API → your token → CRM permissions → Companies → Read.",
		CodeInvalidToken:      "The webhook token is invalid. Copy the current URL from Bitrix24: Settings → REST API.",
		CodeExpiredToken:      "The webhook token has expired. Create a new webhook in Bitrix24: Settings → REST API.",
		CodeMethodNotFound:    "Method crm.company.list was not found. Check that the webhook URL ends with crm.company.list.",
		CodeQueryLimit:        "Bitrix24 request limit exceeded. Try again in a few seconds.",
		CodeAccessDenied:      "REST API access denied. Check the portal plan and the webhook user's permissions.",
		CodeNoAuthFound:       "Webhook not found. Check the user id and token in the URL.",
	})
}

// ForLocale returns the catalog for a locale tag, defaulting to Russian.
func ForLocale(locale string) *Catalog {
	switch locale {
	case "en", "en-US", "en-GB":
		return English()
	default:
		return Russian()
	}
}
