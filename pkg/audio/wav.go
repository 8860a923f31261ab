package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header written by EncodeWAV.
const WAVHeaderSize = 44

// PCMFormat describes raw linear PCM samples.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultPCM is the format synthesis backends use when they return bare samples:
// 24 kHz, mono, 16-bit little endian.
var DefaultPCM = PCMFormat{SampleRate: 24000, Channels: 1, BitsPerSample: 16}

// ByteRate is the number of bytes per second of audio.
func (f PCMFormat) ByteRate() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BlockAlign is the number of bytes per sample frame.
func (f PCMFormat) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// Validate rejects formats a WAV header cannot describe.
func (f PCMFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 || f.Channels > 0xFFFF {
		return fmt.Errorf("audio: invalid channel count %d", f.Channels)
	}
	if f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("audio: invalid bits per sample %d", f.BitsPerSample)
	}
	return nil
}

// EncodeWAV wraps raw PCM in a minimal 44-byte RIFF/WAVE container.
// Every header field is derived from f; nothing is hardcoded to a sample rate.
func EncodeWAV(pcm []byte, f PCMFormat) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	dataSize := len(pcm)
	buf := make([]byte, WAVHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // format tag: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.ByteRate()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(f.BitsPerSample))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[WAVHeaderSize:], pcm)

	return buf, nil
}

// WAVInfo is what ParseWAV reads back from a container.
type WAVInfo struct {
	Format     PCMFormat
	FormatTag  int
	ByteRate   int
	BlockAlign int
	DataSize   int
	// Data aliases the sample bytes inside the parsed buffer.
	Data []byte
}

// ErrNotWAV is returned when the buffer is not a RIFF/WAVE container.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE container")

// ParseWAV walks the chunks of a WAV file and returns its format and data.
// The declared data size is returned as written, even if the buffer is truncated.
func ParseWAV(data []byte) (*WAVInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	info := &WAVInfo{}
	var haveFmt, haveData bool

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("audio: short fmt chunk")
			}
			info.FormatTag = int(binary.LittleEndian.Uint16(data[body : body+2]))
			info.Format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.Format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.ByteRate = int(binary.LittleEndian.Uint32(data[body+8 : body+12]))
			info.BlockAlign = int(binary.LittleEndian.Uint16(data[body+12 : body+14]))
			info.Format.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			info.DataSize = size
			end := body + size
			if end > len(data) {
				end = len(data)
			}
			info.Data = data[body:end]
			haveData = true
		}

		if haveFmt && haveData {
			break
		}

		pos = body + size
		if size%2 != 0 {
			pos++ // chunks are word aligned
		}
	}

	if !haveFmt || !haveData {
		return nil, fmt.Errorf("audio: missing fmt or data chunk")
	}
	return info, nil
}

// Duration estimates playback time of pcmBytes of audio in format f.
func (f PCMFormat) Duration(pcmBytes int) time.Duration {
	rate := f.ByteRate()
	if rate == 0 {
		return 0
	}
	return time.Duration(int64(pcmBytes) * int64(time.Second) / int64(rate))
}
