// Package nlp translates free-form chat messages into bot commands through
// an external language model. The bot depends only on the Translator
// interface; the model call is an implementation detail behind it.
package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnrecognized is returned when the model cannot map the input to a
// command. The bot answers with the usage card instead of guessing.
var ErrUnrecognized = errors.New("text not recognized as a command")

// Translator maps natural language to a command string ("/add lunch pizza").
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// systemPrompt teaches the model the command surface and pins it to pure
// translation. The sentinel word lets unrecognizable input fail cleanly.
const systemPrompt = `You operate a card-draw tool. It manages named sets of
weighted items and draws random items from them. Supported commands:
- add one or more items to a set: /add <set> <item1> <item2> ...
- list all sets: /ls
- list the items of a set: /ls <set>
- delete a set: /del <set>
- delete an item from a set: /del <set> <item>
- draw an item from a set: /roll <set>

You act purely as a translator from natural language to a single command.
Examples:
"for lunch we could do pizza or ramen" -> "/add lunch pizza ramen"
"show me everything" -> "/ls"
"what's in the lunch set" -> "/ls lunch"
"drop pizza from lunch" -> "/del lunch pizza"
"pick something for lunch" -> "/roll lunch"

Translate the user's message into exactly one command. If it cannot be
translated, reply with the single word UNRECOGNIZED.`

// unrecognizedSentinel is what the prompt instructs the model to emit for
// untranslatable input.
const unrecognizedSentinel = "UNRECOGNIZED"

// OpenAITranslator implements Translator against an OpenAI-compatible
// chat-completions endpoint. Safe for concurrent use.
type OpenAITranslator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAITranslator constructs a translator for the given endpoint and
// model. httpClient may be nil for a default with a timeout suited to chat
// completions.
func NewOpenAITranslator(baseURL, apiKey, model string, httpClient *http.Client) *OpenAITranslator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAITranslator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Translate sends text to the model and returns the translated command.
// Untranslatable input returns ErrUnrecognized.
func (t *OpenAITranslator) Translate(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model": t.model,
		"messages": []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion: http %d", resp.StatusCode)
	}

	var result struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", ErrUnrecognized
	}

	// Models sometimes quote the command; strip that before judging it.
	out := strings.TrimSpace(result.Choices[0].Message.Content)
	out = strings.Trim(out, `"`)
	if out == "" || strings.Contains(out, unrecognizedSentinel) {
		return "", ErrUnrecognized
	}
	return out, nil
}
