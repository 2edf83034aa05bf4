// Package audioconv turns synthesized speech responses and raw captures into
// mono float32 PCM at a requested sample rate.
package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

var ErrUnsupported = errors.New("unsupported audio format")

type Format int

const (
	Unknown Format = iota
	WAV
	MP3
	Ogg
)

func (f Format) String() string {
	switch f {
	case WAV:
		return "wav"
	case MP3:
		return "mp3"
	case Ogg:
		return "ogg"
	default:
		return "unknown"
	}
}

// Sniff identifies the container from its leading bytes.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return WAV
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return Ogg
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return MP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return MP3
	default:
		return Unknown
	}
}

// Decode returns data as mono samples in [-1, 1] at rate Hz.
func Decode(data []byte, rate int) ([]float32, error) {
	switch Sniff(data) {
	case WAV:
		return decodeWAV(bytes.NewReader(data), rate)
	case MP3:
		return decodeMP3(bytes.NewReader(data), rate)
	case Ogg:
		s, err := decodeOggVorbis(bytes.NewReader(data), rate)
		if err == nil {
			return s, nil
		}
		s, err2 := decodeOggOpus(bytes.NewReader(data), rate)
		if err2 != nil {
			return nil, fmt.Errorf("decode ogg as vorbis (%v) or opus: %w", err, err2)
		}
		return s, nil
	default:
		return nil, ErrUnsupported
	}
}

// DecodePCM16 converts raw little-endian signed 16-bit mono samples at
// from Hz to float samples at rate Hz.
func DecodePCM16(data []byte, from, rate int) []float32 {
	ints := make([]int16, len(data)/2)
	for i := range ints {
		ints[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return Resample(int16SliceToFloat32(ints), from, rate)
}

// EncodePCM16 is the inverse of DecodePCM16 without resampling. Samples
// outside [-1, 1] are clipped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := clamp(float64(s), -1, 1) * 32767
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v))))
	}
	return out
}

func decodeWAV(r io.ReadSeeker, rate int) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return nil, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch, sr := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return Resample(Downmix(x, ch), sr, rate), nil
}

func decodeMP3(r io.Reader, rate int) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}

	ints := make([]int16, len(raw)/2)
	for i := range ints {
		ints[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	// go-mp3 always produces interleaved stereo
	x := Downmix(int16SliceToFloat32(ints), 2)

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return Resample(x, sr, rate), nil
}

func decodeOggVorbis(r io.Reader, rate int) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	return Resample(Downmix(pcm, format.Channels), format.SampleRate, rate), nil
}

func decodeOggOpus(r io.ReadSeeker, rate int) ([]float32, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm48 = append(pcm48, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(pcm48) == 0 {
		return nil, nil
	}

	return Resample(Downmix(pcm48, ch), 48000, rate), nil
}

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

// Downmix averages interleaved channels into one.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	n := len(in) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts between sample rates by linear interpolation.
func Resample(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 || inSR <= 0 || outSR <= 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
