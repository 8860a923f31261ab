// Package audio turns synthesized speech into something a player can handle
// and plays it, one clip at a time.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"
)

// Container MIME types recognised by Decode.
const (
	MIMEWAV  = "audio/wav"
	MIMEMP3  = "audio/mpeg"
	MIMEOGG  = "audio/ogg"
	MIMEFLAC = "audio/flac"
)

// ErrUnknownFormat is returned when audio is neither a known container nor declared PCM.
var ErrUnknownFormat = errors.New("audio: unrecognised audio format")

// ErrEmpty is returned when there is no audio to decode.
var ErrEmpty = errors.New("audio: no audio data")

// Clip is a self-contained, directly playable audio buffer.
type Clip struct {
	Data     []byte
	MIMEType string
}

// Extension returns a file extension matching the clip's container.
func (c *Clip) Extension() string {
	switch c.MIMEType {
	case MIMEWAV:
		return ".wav"
	case MIMEMP3:
		return ".mp3"
	case MIMEOGG:
		return ".ogg"
	case MIMEFLAC:
		return ".flac"
	default:
		return ".bin"
	}
}

// Decode prepares synthesized audio for playback.
//
// Raw linear PCM, declared through mimeType ("audio/L16;rate=24000",
// "audio/pcm") or by the caller passing raw=true, is wrapped into a WAV
// container; parameters found in the MIME type override pcm. Anything else
// must be a directly playable container, identified by magic bytes first and
// the declared type second.
func Decode(data []byte, mimeType string, raw bool, pcm PCMFormat) (*Clip, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	media, params, _ := mime.ParseMediaType(mimeType)
	media = strings.ToLower(media)

	if raw || isPCM(media) {
		// Some backends already wrap their PCM.
		if Sniff(data) == MIMEWAV {
			return &Clip{Data: data, MIMEType: MIMEWAV}, nil
		}
		f := pcmFromParams(params, pcm)
		wav, err := EncodeWAV(data, f)
		if err != nil {
			return nil, err
		}
		return &Clip{Data: wav, MIMEType: MIMEWAV}, nil
	}

	if kind := Sniff(data); kind != "" {
		return &Clip{Data: data, MIMEType: kind}, nil
	}

	switch media {
	case "audio/mp3", "audio/mpeg":
		return &Clip{Data: data, MIMEType: MIMEMP3}, nil
	case "audio/ogg", "audio/opus":
		return &Clip{Data: data, MIMEType: MIMEOGG}, nil
	case "audio/wav", "audio/x-wav", "audio/wave":
		// Claimed WAV without a RIFF header.
		return nil, fmt.Errorf("%w: %s without RIFF header", ErrUnknownFormat, media)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, mimeType)
}

// Sniff identifies a container by its magic bytes. It returns "" for unknown data.
func Sniff(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return MIMEWAV
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return MIMEMP3
	case len(data) >= 2 && data[0] == 0xFF && (data[1]&0xE0) == 0xE0:
		// MPEG audio frame sync
		return MIMEMP3
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return MIMEOGG
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("fLaC")):
		return MIMEFLAC
	}
	return ""
}

func isPCM(media string) bool {
	switch media {
	case "audio/l16", "audio/pcm", "audio/x-pcm", "audio/raw":
		return true
	}
	return false
}

func pcmFromParams(params map[string]string, base PCMFormat) PCMFormat {
	f := base
	if f.BitsPerSample == 0 {
		f.BitsPerSample = 16
	}
	if f.Channels == 0 {
		f.Channels = 1
	}
	if f.SampleRate == 0 {
		f.SampleRate = DefaultPCM.SampleRate
	}
	if v, err := strconv.Atoi(params["rate"]); err == nil && v > 0 {
		f.SampleRate = v
	}
	if v, err := strconv.Atoi(params["channels"]); err == nil && v > 0 {
		f.Channels = v
	}
	return f
}
