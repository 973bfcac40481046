package types

import "fmt"

// Chunk is the interface for all content exchanged on a live session.
// INPUT:  text, audio (pcm_s16le @16000Hz mono), video (jpeg frame)
// OUTPUT: text, audio (pcm_s16le @24000Hz mono)
type Chunk interface {
	ChunkType() string
}

// Audio formats negotiated at the session boundary. Input providers must
// deliver 16-bit PCM little-endian at 16 kHz; output consumers receive
// 16-bit PCM little-endian at 24 kHz.
const (
	AudioEncodingPCM16 = "pcm_s16le"
	InputSampleRateHz  = 16000
	OutputSampleRateHz = 24000
)

// TextChunk carries a whole string (input) or a token delta (output).
type TextChunk struct {
	Text string `json:"text"`
}

func (c TextChunk) ChunkType() string { return "text" }

// AudioChunk carries one raw PCM frame.
type AudioChunk struct {
	Data         []byte `json:"data"`
	SampleRateHz int    `json:"sample_rate_hz"`
}

func (c AudioChunk) ChunkType() string { return "audio" }

// DurationMs returns the playback duration of the frame.
func (c AudioChunk) DurationMs() int {
	if c.SampleRateHz <= 0 || len(c.Data) == 0 {
		return 0
	}
	// 16-bit mono: two bytes per sample.
	samples := len(c.Data) / 2
	return samples * 1000 / c.SampleRateHz
}

// VideoChunk carries one encoded video frame.
type VideoChunk struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"` // "image/jpeg"
}

func (c VideoChunk) ChunkType() string { return "video" }

// Role identifies the producer of a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one contiguous unit of input or output content within a session.
// Turns are append-only while the session is active.
type Turn struct {
	ID     string  `json:"id"`
	Role   Role    `json:"role"`
	Chunks []Chunk `json:"chunks"`

	// TruncatedAt records the chunk index at which delivery stopped when the
	// turn was interrupted. Nil for turns that completed normally.
	TruncatedAt *int `json:"truncated_at,omitempty"`

	Complete bool `json:"complete"`
}

// Append adds a chunk to the turn.
func (t *Turn) Append(c Chunk) {
	t.Chunks = append(t.Chunks, c)
}

// Truncate marks the turn as cut off at its current length.
func (t *Turn) Truncate() int {
	at := len(t.Chunks)
	t.TruncatedAt = &at
	t.Complete = true
	return at
}

// Text concatenates the text chunks of the turn, for transcript assembly.
func (t *Turn) Text() string {
	var out string
	for _, c := range t.Chunks {
		if tc, ok := c.(TextChunk); ok {
			out += tc.Text
		}
	}
	return out
}

// String describes the turn for logs.
func (t *Turn) String() string {
	return fmt.Sprintf("%s turn %s (%d chunks)", t.Role, t.ID, len(t.Chunks))
}
