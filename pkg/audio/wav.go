package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned by [ParseWAV] when the payload is not a RIFF/WAVE
// container.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE payload")

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	DataOffset    int // byte offset of the first PCM sample
	DataSize      int // length of the data chunk, clipped to the payload
	SampleRate    int // samples per second (e.g., 22050, 44100, 48000)
	Channels      int // 1 = mono, 2 = stereo
	BitsPerSample int
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// ParseWAV walks the RIFF chunks in wav and returns the data offset and audio
// format from the "fmt " sub-chunk. The fmt chunk size varies between
// encoders, so the data offset is never assumed to be 44.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if !IsWAV(wav) {
		return WAVInfo{}, ErrNotWAV
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return WAVInfo{}, errors.New("audio: WAV fmt chunk truncated")
			}
			fmtData := wav[offset+8:]
			if tag := binary.LittleEndian.Uint16(fmtData[0:2]); tag != 1 && tag != 0xFFFE {
				return WAVInfo{}, fmt.Errorf("audio: unsupported WAV format tag %#x", tag)
			}
			info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: WAV data chunk before fmt chunk")
			}
			if info.BitsPerSample != 16 {
				return WAVInfo{}, fmt.Errorf("audio: unsupported WAV bit depth %d", info.BitsPerSample)
			}
			if info.Channels < 1 || info.SampleRate <= 0 {
				return WAVInfo{}, fmt.Errorf("audio: invalid WAV format %d channels at %d Hz", info.Channels, info.SampleRate)
			}
			info.DataOffset = offset + 8
			// Streaming encoders write 0 or 0xFFFFFFFF when the length is unknown.
			info.DataSize = min(chunkSize, len(wav)-info.DataOffset)
			if chunkSize == 0 {
				info.DataSize = len(wav) - info.DataOffset
			}
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV missing data chunk")
}

// WAVData returns the PCM payload of wav along with its format.
func WAVData(wav []byte) ([]byte, WAVInfo, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return nil, WAVInfo{}, err
	}
	return wav[info.DataOffset : info.DataOffset+info.DataSize], info, nil
}

// EncodeWAV wraps 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const headerSize = 44
	out := make([]byte, headerSize+len(pcm))
	blockAlign := channels * 2

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[headerSize:], pcm)
	return out
}
