package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// IsMP3 reports whether data looks like an MPEG audio stream: either an ID3v2
// tag or a frame sync word at the start.
func IsMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// DecodeMP3 decodes an MP3 stream into mono 16-bit PCM at its native sample
// rate.
func DecodeMP3(data []byte) (pcm []byte, sampleRate int, err error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("audio: open mp3: %w", err)
	}
	// go-mp3 always emits interleaved 16-bit stereo.
	stereo, err := io.ReadAll(dec)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, 0, fmt.Errorf("audio: decode mp3: %w", err)
	}
	if len(stereo) == 0 {
		return nil, 0, errors.New("audio: mp3 stream contains no frames")
	}
	return StereoToMono(stereo), dec.SampleRate(), nil
}
