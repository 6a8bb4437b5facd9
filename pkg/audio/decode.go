package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Container names a source encoding accepted by [DecodeMono16].
type Container string

const (
	ContainerAuto Container = ""
	ContainerWAV  Container = "wav"
	ContainerMP3  Container = "mp3"

	// ContainerPCM is headerless s16le mono at the requested target rate.
	ContainerPCM Container = "pcm"
)

// ContainerFromExt maps a file extension (with or without the dot) to a
// container. Unknown extensions map to [ContainerAuto].
func ContainerFromExt(ext string) Container {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "wav", "wave":
		return ContainerWAV
	case "mp3":
		return ContainerMP3
	case "pcm", "raw":
		return ContainerPCM
	default:
		return ContainerAuto
	}
}

// ErrUnknownContainer is returned when [ContainerAuto] cannot sniff the
// payload.
var ErrUnknownContainer = errors.New("audio: unrecognised container")

// DecodeMono16 decodes data into mono 16-bit PCM resampled to targetRate.
// With [ContainerAuto] the container is sniffed from the payload header.
func DecodeMono16(data []byte, c Container, targetRate int) ([]int16, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("audio: invalid target rate %d", targetRate)
	}
	if c == ContainerAuto {
		switch {
		case IsWAV(data):
			c = ContainerWAV
		case IsMP3(data):
			c = ContainerMP3
		default:
			return nil, ErrUnknownContainer
		}
	}

	var (
		pcm  []byte
		rate int
	)
	switch c {
	case ContainerWAV:
		raw, info, err := WAVData(data)
		if err != nil {
			return nil, err
		}
		pcm, rate = Downmix(raw, info.Channels), info.SampleRate
	case ContainerMP3:
		var err error
		if pcm, rate, err = DecodeMP3(data); err != nil {
			return nil, err
		}
	case ContainerPCM:
		pcm, rate = data, targetRate
	default:
		return nil, fmt.Errorf("audio: unsupported container %q", c)
	}

	return Samples(ResampleMono16(pcm, rate, targetRate)), nil
}
