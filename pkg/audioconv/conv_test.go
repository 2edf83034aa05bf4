package audioconv

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeWAV(t *testing.T, rate, channels int, data []int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return raw
}

func TestSniff(t *testing.T) {
	cases := []struct {
		in   []byte
		want Format
	}{
		{[]byte("RIFF\x00\x00\x00\x00WAVEfmt "), WAV},
		{[]byte("OggS\x00\x02"), Ogg},
		{[]byte("ID3\x04\x00"), MP3},
		{[]byte{0xFF, 0xFB, 0x90, 0x00}, MP3},
		{[]byte("{\"error\":1}"), Unknown},
		{nil, Unknown},
	}

	for _, c := range cases {
		if got := Sniff(c.in); got != c.want {
			t.Errorf("Sniff(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestDecodeWAVResamples(t *testing.T) {
	data := make([]int, 800)
	for i := range data {
		data[i] = int(16000 * math.Sin(float64(i)/8))
	}

	samples, err := Decode(writeWAV(t, 8000, 1, data), 16000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(samples) != 1600 {
		t.Fatalf("expected 1600 samples, got %d", len(samples))
	}
	for i, s := range samples {
		if s < -1 || s > 1 {
			t.Fatalf("sample %d out of range: %v", i, s)
		}
	}
}

func TestDecodeWAVDownmixes(t *testing.T) {
	// left full scale, right silent
	data := make([]int, 200)
	for i := 0; i < len(data); i += 2 {
		data[i] = 16384
	}

	samples, err := Decode(writeWAV(t, 16000, 2, data), 16000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(samples) != 100 {
		t.Fatalf("expected 100 frames, got %d", len(samples))
	}
	if math.Abs(float64(samples[0])-0.25) > 1e-3 {
		t.Fatalf("expected averaged channels, got %v", samples[0])
	}
}

func TestDecodeUnsupported(t *testing.T) {
	if _, err := Decode([]byte("not audio at all"), 16000); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1, 2}
	out := DecodePCM16(EncodePCM16(in), 24000, 24000)

	want := []float32{0, 0.5, -0.5, 1, -1, 1}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	in := []float32{0, 1, 0, -1}

	if got := Resample(in, 16000, 16000); len(got) != 4 {
		t.Fatalf("same rate changed length: %d", len(got))
	}
	if got := Resample(in, 8000, 16000); len(got) != 8 || got[1] != 0.5 {
		t.Fatalf("upsample = %v", got)
	}
	if got := Resample(in, 24000, 16000); len(got) != 3 {
		t.Fatalf("downsample length = %d", len(got))
	}
}
