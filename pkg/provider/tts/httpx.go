package tts

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/castvoice/pkg/audio"
)

// maxErrorBody bounds how much of an error response body is kept as the
// error message.
const maxErrorBody = 2048

// Do sends req with client and converts transport failures and non-2xx
// responses into *Error values. On success the caller owns resp.Body.
func Do(client *http.Client, provider string, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		// The request context carries the per-call timeout; a cancelled
		// context must read as a timeout rather than an unreachable host.
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, Classify(provider, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ctxErr))
		}
		return nil, Classify(provider, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, Rejected(provider, resp.StatusCode, readErrorMessage(resp.Body))
	}
	return resp, nil
}

// readErrorMessage extracts a human-readable message from an error body. JSON
// bodies with a "detail", "message" or "error" field are unwrapped.
func readErrorMessage(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			switch v := payload[key].(type) {
			case string:
				return v
			case map[string]any:
				if m, ok := v["message"].(string); ok {
					return m
				}
			}
		}
	}
	return trimmed
}

// NormalizeAudio converts a raw response payload into an [Audio]. WAV payloads
// are stripped to mono PCM; MP3 payloads are passed through. contentType is
// the response's Content-Type header and fallbackRate is used for headerless
// PCM.
func NormalizeAudio(provider string, data []byte, contentType string, fallbackRate int) (*Audio, error) {
	if len(data) == 0 {
		return nil, Empty(provider)
	}
	switch {
	case audio.IsWAV(data):
		raw, info, err := audio.WAVData(data)
		if err != nil {
			return nil, &Error{Provider: provider, Kind: KindRemoteRejected, Message: "malformed WAV", Err: err}
		}
		pcm := audio.Downmix(raw, info.Channels)
		if len(pcm) == 0 {
			return nil, Empty(provider)
		}
		return &Audio{Data: pcm, SampleRate: info.SampleRate, Format: FormatPCM}, nil
	case audio.IsMP3(data) || strings.Contains(contentType, "mpeg") || strings.Contains(contentType, "mp3"):
		return &Audio{Data: data, SampleRate: fallbackRate, Format: FormatMP3}, nil
	default:
		return &Audio{Data: data, SampleRate: fallbackRate, Format: FormatPCM}, nil
	}
}
