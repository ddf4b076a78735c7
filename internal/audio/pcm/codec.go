package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrCodec 标记所有编解码失败，调用方可通过 errors.Is 识别
var ErrCodec = errors.New("pcm codec error")

// CodecError 描述一次失败的编解码操作
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("pcm %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrCodec) 对所有 CodecError 成立
func (e *CodecError) Is(target error) bool { return target == ErrCodec }

// DefaultOutputRate 远端未声明采样率时使用的回放采样率
const DefaultOutputRate = 24000

// Buffer 解码后的音频，每个声道一段 float32 采样
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// NewBuffer 创建指定帧数的静音缓冲
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	planes := make([][]float32, channels)
	for i := range planes {
		planes[i] = make([]float32, frames)
	}
	return &Buffer{SampleRate: sampleRate, Channels: planes}
}

// Frames 返回每个声道的采样数
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration 以秒为单位的时长
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// EncodeSamples 将交错排列的浮点采样转换为 16 位小端 PCM。
// 采样按 32768 缩放后截断，超出 int16 范围的值被钳制到边界。
func EncodeSamples(samples []float32, channels int) ([]byte, error) {
	if channels <= 0 {
		return nil, &CodecError{Op: "encode", Err: fmt.Errorf("invalid channel count %d", channels)}
	}
	if len(samples)%channels != 0 {
		return nil, &CodecError{Op: "encode", Err: fmt.Errorf("%d samples is not a whole number of %d-channel frames", len(samples), channels)}
	}

	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out, nil
}

// EncodeMono 是单声道场景下的 EncodeSamples
func EncodeMono(samples []float32) []byte {
	out, _ := EncodeSamples(samples, 1)
	return out
}

// EncodeBuffer 将 Buffer 重新交错后编码
func EncodeBuffer(buf *Buffer) ([]byte, error) {
	channels := len(buf.Channels)
	if channels == 0 {
		return nil, &CodecError{Op: "encode", Err: errors.New("buffer has no channels")}
	}
	frames := buf.Frames()
	interleaved := make([]float32, frames*channels)
	for ch, plane := range buf.Channels {
		if len(plane) != frames {
			return nil, &CodecError{Op: "encode", Err: fmt.Errorf("channel %d has %d frames, want %d", ch, len(plane), frames)}
		}
		for i, s := range plane {
			interleaved[i*channels+ch] = s
		}
	}
	return EncodeSamples(interleaved, channels)
}

func toInt16(s float32) int16 {
	v := float64(s) * 32768
	if math.IsNaN(v) {
		return 0
	}
	if v > math.MaxInt16 {
		v = math.MaxInt16
	} else if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}

// DecodePCM16 将 16 位小端 PCM 解码为逐声道的浮点缓冲
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, &CodecError{Op: "decode", Err: fmt.Errorf("invalid channel count %d", channels)}
	}
	if sampleRate <= 0 {
		return nil, &CodecError{Op: "decode", Err: fmt.Errorf("invalid sample rate %d", sampleRate)}
	}
	frameBytes := 2 * channels
	if len(data)%frameBytes != 0 {
		return nil, &CodecError{Op: "decode", Err: fmt.Errorf("%d bytes is not a whole number of %d-byte frames", len(data), frameBytes)}
	}

	frames := len(data) / frameBytes
	buf := NewBuffer(sampleRate, channels, frames)
	for ch := 0; ch < channels; ch++ {
		plane := buf.Channels[ch]
		for i := 0; i < frames; i++ {
			off := (i*channels + ch) * 2
			plane[i] = float32(int16(binary.LittleEndian.Uint16(data[off:]))) / 32768.0
		}
	}
	return buf, nil
}

// ToTransportText 将原始字节编码为可嵌入文本协议的 base64
func ToTransportText(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// FromTransportText 解码 base64 文本，非法字符或填充返回 CodecError
func FromTransportText(text string) ([]byte, error) {
	// Strict 模式仍会跳过换行
	if strings.ContainsAny(text, "\r\n") {
		return nil, &CodecError{Op: "transport decode", Err: errors.New("line break in base64 text")}
	}
	data, err := base64.StdEncoding.Strict().DecodeString(text)
	if err != nil {
		return nil, &CodecError{Op: "transport decode", Err: err}
	}
	return data, nil
}

// Blob 是一段已编码、可直接发送的音频
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// NewBlob 将 PCM16 字节包装为 audio/pcm;rate=N
func NewBlob(pcm16 []byte, sampleRate int) Blob {
	return Blob{
		MIMEType: MIMEType(sampleRate),
		Data:     ToTransportText(pcm16),
	}
}

// MIMEType 返回 PCM 描述符
func MIMEType(sampleRate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(sampleRate)
}

// ParseRate 从 audio/pcm;rate=N 中读取采样率，缺失时返回 fallback
func ParseRate(mimeType string, fallback int) int {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rate") {
			continue
		}
		if rate, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}

// IsPCM 判断描述符是否为裸 PCM
func IsPCM(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	return base == "audio/pcm" || base == "audio/l16"
}

// DecodeBlob 解码一个入站 Blob 为单声道缓冲
func DecodeBlob(blob Blob) (*Buffer, error) {
	if blob.MIMEType != "" && !IsPCM(blob.MIMEType) {
		return nil, &CodecError{Op: "decode", Err: fmt.Errorf("unsupported mime type %q", blob.MIMEType)}
	}
	raw, err := FromTransportText(blob.Data)
	if err != nil {
		return nil, err
	}
	return DecodePCM16(raw, ParseRate(blob.MIMEType, DefaultOutputRate), 1)
}
