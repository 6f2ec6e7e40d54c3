// Package pricing implements the Pricing Book: a pure mapping from model id
// and usage to USD cost. No I/O.
package pricing

import "math"

// Rate holds the per-unit USD rates for one model across operation kinds.
type Rate struct {
	InputPer1M      float64 // USD per 1M input tokens
	OutputPer1M     float64 // USD per 1M output tokens
	PerMinute       float64 // USD per minute of audio (STT)
	PerMillionChars float64 // USD per 1M characters (TTS)
}

// Book is a static, configuration-supplied mapping from model id (flat
// namespace across all providers) to its Rate.
type Book struct {
	rates map[string]Rate
}

// NewBook builds a Book from a model-id-to-Rate mapping.
func NewBook(rates map[string]Rate) *Book {
	cp := make(map[string]Rate, len(rates))
	for k, v := range rates {
		cp[k] = v
	}
	return &Book{rates: cp}
}

func round8(v float64) float64 {
	const scale = 1e8
	return math.Round(v*scale) / scale
}

// ChatCost computes the USD cost of a chat completion. An unknown model
// returns 0.0 -- it never raises, since the system must still record the
// event rather than reject the message.
func (b *Book) ChatCost(modelID string, inputTokens, outputTokens int) float64 {
	rate, ok := b.rates[modelID]
	if !ok {
		return 0.0
	}
	cost := (float64(inputTokens)/1_000_000)*rate.InputPer1M + (float64(outputTokens)/1_000_000)*rate.OutputPer1M
	return round8(cost)
}

// EmbeddingCost computes the USD cost of an embedding call.
func (b *Book) EmbeddingCost(modelID string, tokens int) float64 {
	rate, ok := b.rates[modelID]
	if !ok {
		return 0.0
	}
	return round8((float64(tokens) / 1_000_000) * rate.InputPer1M)
}

// STTCost computes the USD cost of a speech-to-text call.
func (b *Book) STTCost(modelID string, minutes float64) float64 {
	rate, ok := b.rates[modelID]
	if !ok {
		return 0.0
	}
	return round8(minutes * rate.PerMinute)
}

// TTSCost computes the USD cost of a text-to-speech call.
func (b *Book) TTSCost(modelID string, characters int) float64 {
	rate, ok := b.rates[modelID]
	if !ok {
		return 0.0
	}
	return round8((float64(characters) / 1_000_000) * rate.PerMillionChars)
}
