package audio_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-talkback/pkg/audio"
)

func TestEncodeWAVRoundTrip(t *testing.T) {
	pcm := make([]byte, 48000)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	wav, err := audio.EncodeWAV(pcm, audio.PCMFormat{SampleRate: 24000, Channels: 1, BitsPerSample: 16})
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(wav) != audio.WAVHeaderSize+48000 {
		t.Fatalf("len = %d, want %d", len(wav), audio.WAVHeaderSize+48000)
	}

	info, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataSize != 48000 {
		t.Errorf("DataSize = %d, want 48000", info.DataSize)
	}
	if info.FormatTag != 1 {
		t.Errorf("FormatTag = %d, want 1", info.FormatTag)
	}
	if info.Format.SampleRate != 24000 || info.Format.Channels != 1 || info.Format.BitsPerSample != 16 {
		t.Errorf("Format = %+v", info.Format)
	}
	if info.ByteRate != 48000 {
		t.Errorf("ByteRate = %d, want 48000", info.ByteRate)
	}
	if info.BlockAlign != 2 {
		t.Errorf("BlockAlign = %d, want 2", info.BlockAlign)
	}
	if !bytes.Equal(info.Data, pcm) {
		t.Error("data chunk does not match input")
	}
}

func TestEncodeWAVDerivesHeaderFields(t *testing.T) {
	tests := []struct {
		name       string
		format     audio.PCMFormat
		byteRate   int
		blockAlign int
	}{
		{"16k mono 16-bit", audio.PCMFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16}, 32000, 2},
		{"44.1k stereo 16-bit", audio.PCMFormat{SampleRate: 44100, Channels: 2, BitsPerSample: 16}, 176400, 4},
		{"8k mono 8-bit", audio.PCMFormat{SampleRate: 8000, Channels: 1, BitsPerSample: 8}, 8000, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wav, err := audio.EncodeWAV(make([]byte, 100), tt.format)
			if err != nil {
				t.Fatalf("EncodeWAV: %v", err)
			}
			info, err := audio.ParseWAV(wav)
			if err != nil {
				t.Fatalf("ParseWAV: %v", err)
			}
			if info.Format != tt.format {
				t.Errorf("Format = %+v, want %+v", info.Format, tt.format)
			}
			if info.ByteRate != tt.byteRate {
				t.Errorf("ByteRate = %d, want %d", info.ByteRate, tt.byteRate)
			}
			if info.BlockAlign != tt.blockAlign {
				t.Errorf("BlockAlign = %d, want %d", info.BlockAlign, tt.blockAlign)
			}
		})
	}
}

func TestEncodeWAVRejectsBadFormat(t *testing.T) {
	bad := []audio.PCMFormat{
		{SampleRate: 0, Channels: 1, BitsPerSample: 16},
		{SampleRate: 24000, Channels: 0, BitsPerSample: 16},
		{SampleRate: 24000, Channels: 1, BitsPerSample: 12},
	}
	for _, f := range bad {
		if _, err := audio.EncodeWAV([]byte{0, 0}, f); err == nil {
			t.Errorf("EncodeWAV(%+v) should fail", f)
		}
	}
}

func TestParseWAVRejectsOtherData(t *testing.T) {
	if _, err := audio.ParseWAV([]byte("ID3 not a wav file")); !errors.Is(err, audio.ErrNotWAV) {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}

func TestDuration(t *testing.T) {
	if d := audio.DefaultPCM.Duration(48000); d != time.Second {
		t.Errorf("Duration = %v, want 1s", d)
	}
}

func TestDecode(t *testing.T) {
	mp3 := append([]byte("ID3"), make([]byte, 16)...)
	pcm := []byte{0xFF, 0xF0, 0x01, 0x02}

	t.Run("playable container passes through", func(t *testing.T) {
		clip, err := audio.Decode(mp3, "", false, audio.DefaultPCM)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if clip.MIMEType != audio.MIMEMP3 || !bytes.Equal(clip.Data, mp3) {
			t.Errorf("clip = %s (%d bytes)", clip.MIMEType, len(clip.Data))
		}
		if clip.Extension() != ".mp3" {
			t.Errorf("Extension = %q", clip.Extension())
		}
	})

	t.Run("L16 with rate parameter is wrapped", func(t *testing.T) {
		clip, err := audio.Decode(pcm, "audio/L16;codec=pcm;rate=16000", false, audio.DefaultPCM)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if clip.MIMEType != audio.MIMEWAV {
			t.Fatalf("MIMEType = %s, want wav", clip.MIMEType)
		}
		info, err := audio.ParseWAV(clip.Data)
		if err != nil {
			t.Fatalf("ParseWAV: %v", err)
		}
		if info.Format.SampleRate != 16000 {
			t.Errorf("SampleRate = %d, want 16000", info.Format.SampleRate)
		}
		if info.DataSize != len(pcm) {
			t.Errorf("DataSize = %d, want %d", info.DataSize, len(pcm))
		}
	})

	t.Run("raw flag uses default format", func(t *testing.T) {
		clip, err := audio.Decode(pcm, "", true, audio.DefaultPCM)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		info, err := audio.ParseWAV(clip.Data)
		if err != nil {
			t.Fatalf("ParseWAV: %v", err)
		}
		if info.Format != audio.DefaultPCM {
			t.Errorf("Format = %+v", info.Format)
		}
	})

	t.Run("pcm that is already wav is not double wrapped", func(t *testing.T) {
		wav, _ := audio.EncodeWAV(pcm, audio.DefaultPCM)
		clip, err := audio.Decode(wav, "audio/pcm", false, audio.DefaultPCM)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if len(clip.Data) != len(wav) {
			t.Errorf("len = %d, want %d", len(clip.Data), len(wav))
		}
	})

	t.Run("unknown data fails", func(t *testing.T) {
		_, err := audio.Decode([]byte("hello"), "", false, audio.DefaultPCM)
		if !errors.Is(err, audio.ErrUnknownFormat) {
			t.Errorf("err = %v, want ErrUnknownFormat", err)
		}
	})

	t.Run("empty fails", func(t *testing.T) {
		if _, err := audio.Decode(nil, "audio/mpeg", false, audio.DefaultPCM); !errors.Is(err, audio.ErrEmpty) {
			t.Errorf("err = %v, want ErrEmpty", err)
		}
	})
}

func TestMockPlayerSingleHandle(t *testing.T) {
	p := audio.NewMockPlayer(time.Second)
	ctx := context.Background()
	clip := &audio.Clip{Data: []byte{1}, MIMEType: audio.MIMEWAV}

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = p.Play(ctx, clip)
	}()

	deadline := time.Now().Add(time.Second)
	for !p.IsPlaying() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	done := make(chan error, 1)
	go func() { done <- p.Play(ctx, clip) }()

	wg.Wait()
	if !errors.Is(firstErr, audio.ErrStopped) {
		t.Errorf("first Play err = %v, want ErrStopped", firstErr)
	}

	for len(p.Clips()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	p.Stop()
	if err := <-done; !errors.Is(err, audio.ErrStopped) {
		t.Errorf("second Play err = %v, want ErrStopped", err)
	}
	if p.MaxConcurrent() != 1 {
		t.Errorf("MaxConcurrent = %d, want 1", p.MaxConcurrent())
	}
	if len(p.Clips()) != 2 {
		t.Errorf("Clips = %d, want 2", len(p.Clips()))
	}
}
