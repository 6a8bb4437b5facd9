package audio_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/castvoice/pkg/audio"
)

func TestMonoToStereo(t *testing.T) {
	stereo := audio.MonoToStereo(audio.Bytes([]int16{100, 200, 300}))
	got := audio.Samples(stereo)
	want := []int16{100, 100, 200, 200, 300, 300}
	if !slices.Equal(got, want) {
		t.Errorf("MonoToStereo = %v, want %v", got, want)
	}
}

func TestMonoToStereo_OddLengthInput(t *testing.T) {
	// 5 bytes = 2 complete samples + 1 trailing byte.
	pcm := []byte{0x64, 0x00, 0xC8, 0x00, 0xFF}
	stereo := audio.MonoToStereo(pcm)
	if len(stereo) != 8 {
		t.Fatalf("expected 8 bytes for 2 complete mono samples, got %d", len(stereo))
	}
	if got, want := audio.Samples(stereo), []int16{100, 100, 200, 200}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDownmix(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{name: "stereo", in: []int16{100, 200, -100, -200}, channels: 2, want: []int16{150, -150}},
		{name: "stereo max", in: []int16{32767, 32767}, channels: 2, want: []int16{32767}},
		{name: "stereo min", in: []int16{-32768, -32768}, channels: 2, want: []int16{-32768}},
		{name: "quad", in: []int16{100, 200, 300, 400}, channels: 4, want: []int16{250}},
		{name: "partial frame dropped", in: []int16{10, 20, 30}, channels: 2, want: []int16{15}},
		{name: "mono passthrough", in: []int16{1, 2, 3}, channels: 1, want: []int16{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.Samples(audio.Downmix(audio.Bytes(tt.in), tt.channels))
			if !slices.Equal(got, tt.want) {
				t.Errorf("Downmix = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResampleMono16(t *testing.T) {
	t.Run("same rate", func(t *testing.T) {
		pcm := audio.Bytes([]int16{100, 200, 300})
		if out := audio.ResampleMono16(pcm, 48000, 48000); len(out) != len(pcm) {
			t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
		}
	})
	t.Run("upsample", func(t *testing.T) {
		got := audio.Samples(audio.ResampleMono16(audio.Bytes([]int16{1000, 2000}), 16000, 48000))
		if len(got) != 6 {
			t.Fatalf("expected 6 samples, got %d", len(got))
		}
		if got[0] != 1000 {
			t.Errorf("first sample: got %d, want 1000", got[0])
		}
		if last := got[len(got)-1]; last < 1800 || last > 2200 {
			t.Errorf("last sample: got %d, want close to 2000", last)
		}
	})
	t.Run("downsample", func(t *testing.T) {
		got := audio.Samples(audio.ResampleMono16(audio.Bytes([]int16{100, 200, 300, 400, 500, 600}), 48000, 16000))
		if len(got) != 2 {
			t.Fatalf("expected 2 samples, got %d", len(got))
		}
	})
	t.Run("invalid rates", func(t *testing.T) {
		pcm := audio.Bytes([]int16{100, 200})
		for _, rates := range [][2]int{{0, 48000}, {48000, 0}, {-1, 48000}} {
			if out := audio.ResampleMono16(pcm, rates[0], rates[1]); len(out) != len(pcm) {
				t.Errorf("rates %v: expected unchanged output, got len %d", rates, len(out))
			}
		}
	})
}

func TestConverter(t *testing.T) {
	t.Run("no-op returns same slice", func(t *testing.T) {
		conv := audio.Converter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
		pcm := audio.Bytes([]int16{100, 200})
		out := conv.Convert(pcm, audio.Format{SampleRate: 48000, Channels: 2})
		if &out[0] != &pcm[0] {
			t.Error("expected the input slice to be returned unchanged")
		}
	})
	t.Run("mono to stereo", func(t *testing.T) {
		conv := audio.Converter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
		out := conv.Convert(audio.Bytes([]int16{100, 200}), audio.Format{SampleRate: 48000, Channels: 1})
		if got, want := audio.Samples(out), []int16{100, 100, 200, 200}; !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})
	t.Run("stereo 16k to mono 48k", func(t *testing.T) {
		conv := audio.Converter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
		out := conv.Convert(audio.Bytes([]int16{100, 300, 100, 300}), audio.Format{SampleRate: 16000, Channels: 2})
		got := audio.Samples(out)
		if len(got) != 6 {
			t.Fatalf("expected 6 samples, got %d", len(got))
		}
		for i, s := range got {
			if s != 200 {
				t.Errorf("sample %d: got %d, want 200", i, s)
			}
		}
	})
	t.Run("odd byte count dropped", func(t *testing.T) {
		conv := audio.Converter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
		if out := conv.Convert([]byte{1, 2, 3}, audio.Format{SampleRate: 48000, Channels: 1}); out != nil {
			t.Errorf("expected nil for misaligned buffer, got %d bytes", len(out))
		}
	})
}

func TestFormatString(t *testing.T) {
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
