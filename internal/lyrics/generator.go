// Package lyrics generates song lyrics through an OpenAI-compatible chat
// completion API and splits them into ordered segments for chunked synthesis.
package lyrics

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	systemPrompt = "Only return lyrics in the response nothing else not even the instruction or comment."
	userPrompt   = "Suggest lyrics for a song based on the following keyword: %s"
)

var (
	// ErrTopicEmpty indicates that no topic was supplied.
	ErrTopicEmpty = errors.New("topic cannot be empty")
	// ErrEmptyCompletion indicates that the model returned no lyric text.
	ErrEmptyCompletion = errors.New("completion contained no lyrics")
)

// Options configures an OpenAIGenerator.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	// RequestOptions are appended to the client options. Retries stay disabled
	// whatever they say: a failed completion is reported after one call.
	RequestOptions []option.RequestOption
}

// OpenAIGenerator implements core.LyricsGenerator with a chat completion call.
type OpenAIGenerator struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	log         *logger.Logger
}

// NewOpenAIGenerator creates a generator for the given endpoint.
func NewOpenAIGenerator(opts Options, log *logger.Logger) *OpenAIGenerator {
	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	clientOpts = append(clientOpts, opts.RequestOptions...)
	clientOpts = append(clientOpts, option.WithMaxRetries(0))

	return &OpenAIGenerator{
		client:      openai.NewClient(clientOpts...),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		log:         log,
	}
}

// Generate returns lyrics for topic.
func (g *OpenAIGenerator) Generate(ctx context.Context, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", ErrTopicEmpty
	}

	params := openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(fmt.Sprintf(userPrompt, topic)),
		},
		N: openai.Int(1),
	}

	if g.temperature > 0 {
		params.Temperature = openai.Float(g.temperature)
	}

	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(g.maxTokens))
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("lyrics completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}

	g.log.Info("Generated %d lines of lyrics for topic '%s'", len(NonBlankLines(text)), topic)

	return text, nil
}
