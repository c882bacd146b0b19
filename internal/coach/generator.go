// Package coach は生成AIを使った出題・採点を提供する。
package coach

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// ErrEmptyResponse は生成AIが空の応答を返したことを表す。
var ErrEmptyResponse = errors.New("coach: empty response from model")

// Request は生成AIへの1回分のリクエスト。
type Request struct {
	// Kind はメトリクスとログに使う要求種別。
	Kind   string
	Prompt string
	// Schema がnilの場合は自由記述のテキストを要求する。
	Schema *genai.Schema
}

// Generator は生成AIの呼び出しを抽象化する。
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeminiConfig はGeminiGeneratorの設定。
type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL が空の場合は公式エンドポイントを使う。
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiGenerator はGemini APIを使うGeneratorの実装。
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator はGeminiGeneratorを生成する。
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: cfg.Model}, nil
}

// Generate はプロンプトを送信し、応答テキストを返す。
// Schemaが指定された場合はJSONでの応答を要求する。
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	var config *genai.GenerateContentConfig
	if req.Schema != nil {
		config = &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   req.Schema,
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), config)
	if err != nil {
		return "", fmt.Errorf("generate content (%s): %w", req.Kind, err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("generate content (%s): %w", req.Kind, ErrEmptyResponse)
	}
	return text, nil
}

// compile-time interface check
var _ Generator = (*GeminiGenerator)(nil)
