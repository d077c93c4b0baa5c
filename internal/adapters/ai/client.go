// Package ai — адаптер генеративного API, совместимого с OpenAI chat
// completions. Сервис, модель и ключ разрешаются через конфигурацию с учётом
// канальных переопределений; любые ошибки сети и декодирования превращаются в
// детерминированные заглушки, чтобы отказ внешнего API никогда не ронял бота.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ircwit/internal/infra/config"
	"ircwit/internal/infra/logger"
	"ircwit/internal/infra/metrics"
)

// Базовые URL известных сервисов. Ключ ai_url в конфигурации переопределяет
// адрес для несовместимых инсталляций и локальных прокси.
var baseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"perplexity": "https://api.perplexity.ai",
	"grok":       "https://api.x.ai/v1",
	"anthropic":  "https://api.anthropic.com/v1",
}

// Параметры генерации по назначению: живой разговор терпит больше свободы и
// длины, служебные реплики (топики, поводы для кика, выходы) короче и горячее.
const (
	chatTemperature  = 0.8
	spiceTemperature = 0.9
	chatMaxTokens    = 150
	shortMaxTokens   = 50

	defaultService = "openai"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second

	// Запросы к API идут не чаще двух в секунду со вспышкой до четырёх.
	requestRate  = 2
	requestBurst = 4
)

// Заглушки на случай недоступности API.
const (
	FallbackReply    = "Uh... I'm speechless (error)."
	FallbackTopic    = "Just another boring day..."
	FallbackKick     = "Because I said so!"
	FallbackEntrance = "Has arrived!"
)

// Turn — одна реплика диалога в терминах chat completions.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client — потокобезопасный клиент генеративного API.
type Client struct {
	cfg     *config.Store
	met     *metrics.Set
	httpc   *http.Client
	limiter *rate.Limiter
}

// New создаёт клиента поверх общего http.Client с таймаутом.
func New(cfg *config.Store, met *metrics.Set) *Client {
	return &Client{
		cfg:     cfg,
		met:     met,
		httpc:   &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(requestRate), requestBurst),
	}
}

// Reply генерирует разговорную реплику для канала.
func (c *Client) Reply(ctx context.Context, channel string, turns []Turn) string {
	return c.generate(ctx, channel, turns, chatTemperature, chatMaxTokens, FallbackReply)
}

// Topic генерирует текст топика канала.
func (c *Client) Topic(ctx context.Context, channel string, turns []Turn) string {
	return c.generate(ctx, channel, turns, spiceTemperature, shortMaxTokens, FallbackTopic)
}

// KickReason генерирует повод для кика.
func (c *Client) KickReason(ctx context.Context, channel string, turns []Turn) string {
	return c.generate(ctx, channel, turns, spiceTemperature, shortMaxTokens, FallbackKick)
}

// Entrance генерирует реплику входа в канал.
func (c *Client) Entrance(ctx context.Context, channel string, turns []Turn) string {
	return c.generate(ctx, channel, turns, spiceTemperature, shortMaxTokens, FallbackEntrance)
}

// generate выполняет запрос и подменяет любую ошибку заглушкой.
func (c *Client) generate(ctx context.Context, channel string, turns []Turn, temp float64, maxTokens int, fallback string) string {
	text, err := c.complete(ctx, channel, turns, temp, maxTokens)
	if err != nil {
		c.met.AIFailures.Inc()
		logger.Warnf("ai: запрос не удался: %v", err)
		return fallback
	}
	if text == "" {
		return fallback
	}
	return text
}

type chatRequest struct {
	Model       string  `json:"model"`
	Messages    []Turn  `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// complete выполняет один запрос chat completions с учётом лимитера.
func (c *Client) complete(ctx context.Context, channel string, turns []Turn, temp float64, maxTokens int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	c.met.AIRequests.Inc()

	snap := c.cfg.Snapshot()
	service := strings.ToLower(snap.GetString(channel, "ai_service", defaultService))
	model := snap.GetString(channel, "ai_model", defaultModel)
	key := snap.GetString(channel, "ai_key", "")

	base := snap.GetString(channel, "ai_url", "")
	if base == "" {
		var ok bool
		base, ok = baseURLs[service]
		if !ok {
			return "", fmt.Errorf("unknown ai service %q and no ai_url override", service)
		}
	}

	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    turns,
		Temperature: temp,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	logger.API("ai request",
		zap.String("service", service),
		zap.String("model", model),
		zap.String("channel", channel),
		zap.ByteString("payload", payload),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(base, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	logger.API("ai response",
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", body),
	)

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, decoded.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
