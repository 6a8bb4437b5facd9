package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/castvoice/internal/archetype"
	"github.com/MrWong99/castvoice/internal/observe"
	"github.com/MrWong99/castvoice/internal/synth"
	"github.com/MrWong99/castvoice/internal/voicestore"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Response headers describing synthesised audio.
const (
	HeaderAudioFormat = "X-Audio-Format"
	HeaderSampleRate  = "X-Sample-Rate"
	HeaderProvider    = "X-Provider"
	HeaderMessageID   = "X-Message-ID"
	HeaderOutcome     = "X-Synthesis-Outcome"
)

// matchRequest is the body of POST /v1/match.
type matchRequest struct {
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Gender      string   `json:"gender"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Handler returns the HTTP API with tracing and request metrics applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/synthesize", a.handleSynthesize)
	mux.HandleFunc("POST /v1/synthesize/stream", a.handleStream)
	mux.HandleFunc("POST /v1/match", a.handleMatch)
	mux.HandleFunc("GET /v1/providers/{name}/quota", a.handleQuota)
	mux.HandleFunc("GET /v1/characters/{id}/voice", a.handleGetVoice)
	mux.HandleFunc("PUT /v1/characters/{id}/voice", a.handlePutVoice)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// handleSynthesize renders one line. Silent degradation answers 204 with the
// outcome in headers.
func (a *App) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synth.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	audio, out := a.orch.Synthesize(r.Context(), req)
	w.Header().Set(HeaderMessageID, out.MessageID)
	w.Header().Set(HeaderOutcome, out.State.String())
	if audio == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", contentType(audio.Format))
	w.Header().Set(HeaderAudioFormat, string(audio.Format))
	w.Header().Set(HeaderSampleRate, strconv.Itoa(audio.SampleRate))
	w.Header().Set(HeaderProvider, out.Provider)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio.Data); err != nil {
		observe.Logger(r.Context()).Debug("synthesize: write response", "err", err)
	}
}

// handleStream relays PCM chunks from a streaming adapter as they arrive.
func (a *App) handleStream(w http.ResponseWriter, r *http.Request) {
	var req synth.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	ch, rate, out := a.orch.Stream(r.Context(), req)
	w.Header().Set(HeaderMessageID, out.MessageID)
	w.Header().Set(HeaderOutcome, out.State.String())
	if ch == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", contentType(tts.FormatPCM))
	w.Header().Set(HeaderAudioFormat, string(tts.FormatPCM))
	w.Header().Set(HeaderSampleRate, strconv.Itoa(rate))
	w.Header().Set(HeaderProvider, out.Provider)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for chunk := range ch {
		if _, err := w.Write(chunk); err != nil {
			observe.Logger(r.Context()).Debug("stream: client went away", "err", err)
			// Drain so the adapter goroutine can finish.
			for range ch {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (a *App) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var g archetype.Gender
	if req.Gender != "" {
		var ok bool
		if g, ok = archetype.ParseGender(req.Gender); !ok {
			writeError(w, http.StatusBadRequest, "gender must be one of M, F, NB")
			return
		}
	}
	writeJSON(w, http.StatusOK, a.matcher.Match(req.Description, req.Keywords, g))
}

// handleQuota reports a metered provider's usage. It never touches synthesis.
func (a *App) handleQuota(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	p, ok := a.orch.Provider(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider "+strconv.Quote(name))
		return
	}
	qp, ok := p.(tts.QuotaProvider)
	if !ok {
		writeError(w, http.StatusNotImplemented, "provider "+strconv.Quote(name)+" does not report quota")
		return
	}
	q, err := qp.Quota(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("quota lookup failed", "provider", name, "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleGetVoice returns the character's voice profile, creating it on first
// use.
func (a *App) handleGetVoice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := a.characters.Character(r.Context(), id)
	switch {
	case errors.Is(err, synth.ErrUnknownCharacter):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		observe.Logger(r.Context()).Error("character lookup failed", "character_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "character lookup failed")
		return
	}
	p, err := a.orch.Profile(r.Context(), c)
	if err != nil {
		observe.Logger(r.Context()).Error("voice profile lookup failed", "character_id", c.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "voice profile unavailable")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePutVoice stores an operator-edited voice profile.
func (a *App) handlePutVoice(w http.ResponseWriter, r *http.Request) {
	var p voicestore.Profile
	if !decodeJSON(w, r, &p) {
		return
	}
	p.CharacterID = r.PathValue("id")
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.Upsert(r.Context(), &p); err != nil {
		observe.Logger(r.Context()).Error("voice profile upsert failed", "character_id", p.CharacterID, "err", err)
		writeError(w, http.StatusInternalServerError, "voice profile not stored")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func contentType(f tts.Format) string {
	if f == tts.FormatMP3 {
		return "audio/mpeg"
	}
	return "audio/L16"
}

// decodeJSON decodes the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
