// Package audio holds the codecs and sample-level helpers shared by the TTS
// adapters, the playback coordinator and the enforcement pipeline.
//
// All PCM handled here is little-endian signed 16-bit. Helpers that take a
// []byte operate on that encoding directly; [Samples] and [Bytes] convert to
// and from []int16 when arithmetic on samples is needed.
//
// Supported containers are RIFF/WAVE (any channel count, 16-bit integer
// samples) and MPEG Layer III, decoded with github.com/hajimehoshi/go-mp3.
package audio
