package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/songzhibin97/quantaguard/internal/ai"
	"github.com/songzhibin97/quantaguard/internal/models"
)

const (
	// DeepSeekBaseURL serves an OpenAI-compatible API
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
	DeepSeekModel   = "deepseek-chat"
)

// OpenAIAnalyzer implements ai.SignalSource with any OpenAI-compatible chat API
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

// NewOpenAIAnalyzer creates a new analyzer. An empty baseURL targets OpenAI.
func NewOpenAIAnalyzer(apiKey, baseURL, model string) *OpenAIAnalyzer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = openai.GPT4o // 默认模型
	}
	return &OpenAIAnalyzer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Decide implements ai.SignalSource
func (a *OpenAIAnalyzer) Decide(ctx context.Context, s *models.TechnicalSnapshot) (*ai.Decision, error) {
	if s == nil {
		return nil, fmt.Errorf("no snapshot provided")
	}

	trend := string(s.Trend)
	if trend == "" {
		trend = "UNKNOWN"
	}

	pivots := "n/a"
	if s.HasPivots {
		pivots = fmt.Sprintf("P %.4f R1 %.4f R2 %.4f S1 %.4f S2 %.4f",
			s.Pivots.P, s.Pivots.R1, s.Pivots.R2, s.Pivots.S1, s.Pivots.S2)
	}

	prompt := fmt.Sprintf(`基于以下永续合约技术指标给出交易决策:
交易对: %s
周期: %s (K线时间 %s, 已收盘)
收盘价: %.6f
成交量: %.4f (均量 %.4f)
EMA快线: %.6f  EMA慢线: %.6f
RSI: %.2f
ADX: %.2f (+DI %.2f, -DI %.2f)
布林带: 上 %.6f 中 %.6f 下 %.6f
StochRSI: K %.2f D %.2f
ATR: %.6f
枢轴点: %s
大周期趋势: %s
资金费率: %.6f
持仓量: %.2f

只在信号明确时给出 BUY 或 SELL，否则 WAIT。
限价单必须给出 entry_price。

输出格式为JSON:
{
    "action": "BUY" | "SELL" | "WAIT",
    "confidence": float (0-1),
    "order_type": "market" | "limit",
    "entry_price": float,
    "reason": "string"
}`,
		s.Symbol, s.Timeframe, s.CandleAt.UTC().Format("2006-01-02 15:04:05"),
		s.Close, s.Volume, s.VolumeSMA,
		s.FastEMA, s.SlowEMA,
		s.RSI,
		s.ADX, s.PlusDI, s.MinusDI,
		s.BollingerUpper, s.BollingerMiddle, s.BollingerLower,
		s.StochRSIK, s.StochRSID,
		s.ATR,
		pivots,
		trend,
		s.FundingRate,
		s.OpenInterest)

	resp, err := a.createChatCompletion(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}

	var decision ai.Decision
	if err := json.Unmarshal([]byte(extractJSON(resp)), &decision); err != nil {
		return nil, fmt.Errorf("failed to parse decision: %w", err)
	}
	decision.Symbol = s.Symbol
	decision.Action = ai.Action(strings.ToUpper(string(decision.Action)))
	decision.OrderType = models.OrderType(strings.ToLower(string(decision.OrderType)))
	if decision.OrderType == "" {
		decision.OrderType = models.OrderTypeMarket
	}

	if err := decision.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decision: %w", err)
	}
	return &decision, nil
}

// createChatCompletion is a helper function to make chat API calls
func (a *OpenAIAnalyzer) createChatCompletion(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "你是一个专业的加密货币合约交易员，只根据给定指标做决策。请始终以JSON格式返回结果。",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Temperature: 0.2, // 使用较低的temperature以获得更稳定的输出
		},
	)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return resp.Choices[0].Message.Content, nil
}

// extractJSON strips markdown fences some models wrap around JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if start := strings.Index(s, "{"); start > 0 {
		s = s[start:]
	}
	if end := strings.LastIndex(s, "}"); end >= 0 && end < len(s)-1 {
		s = s[:end+1]
	}
	return s
}
