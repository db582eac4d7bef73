package upstream

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-audio/wav"
	"github.com/tidwall/sjson"
)

// Voice providers.
const (
	ProviderCartesia = "cartesia"
	ProviderZyphra   = "zyphra"
)

// SpeechRequest is one text-to-speech call.
type SpeechRequest struct {
	Text     string
	VoiceID  string
	Language string
	Speed    float64
}

// Speech is synthesized audio.
type Speech struct {
	Audio       []byte
	ContentType string
	Duration    time.Duration
}

// Synthesizer turns text into audio with a provider credential.
type Synthesizer interface {
	Synthesize(ctx context.Context, credential string, req SpeechRequest) (*Speech, error)
}

// CartesiaClient calls the Cartesia bytes endpoint.
type CartesiaClient struct {
	client *Client
	model  string
}

func NewCartesiaClient(client *Client) *CartesiaClient {
	return &CartesiaClient{client: client, model: "sonic-2"}
}

func (c *CartesiaClient) Synthesize(ctx context.Context, credential string, req SpeechRequest) (*Speech, error) {
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	body := []byte(`{}`)
	var err error
	for _, kv := range []struct {
		path  string
		value any
	}{
		{"model_id", c.model},
		{"transcript", req.Text},
		{"voice.mode", "id"},
		{"voice.id", req.VoiceID},
		{"language", lang},
		{"output_format.container", "wav"},
		{"output_format.encoding", "pcm_s16le"},
		{"output_format.sample_rate", 44100},
	} {
		if body, err = sjson.SetBytes(body, kv.path, kv.value); err != nil {
			return nil, &Error{Category: CategoryGeneric, Err: err}
		}
	}
	audio, err := c.client.Post(ctx, "cartesia.tts", "/tts/bytes", credential, "", body)
	if err != nil {
		return nil, err
	}
	return newSpeech(audio)
}

// ZyphraClient calls the Zyphra text-to-speech endpoint.
type ZyphraClient struct {
	client *Client
}

func NewZyphraClient(client *Client) *ZyphraClient {
	return &ZyphraClient{client: client}
}

func (z *ZyphraClient) Synthesize(ctx context.Context, credential string, req SpeechRequest) (*Speech, error) {
	speed := req.Speed
	if speed <= 0 {
		speed = 15
	}
	body, err := sjson.SetBytes([]byte(`{}`), "text", req.Text)
	if err == nil {
		body, err = sjson.SetBytes(body, "speaking_rate", speed)
	}
	if err == nil {
		body, err = sjson.SetBytes(body, "mime_type", "audio/wav")
	}
	if err == nil && req.VoiceID != "" {
		body, err = sjson.SetBytes(body, "default_voice_name", req.VoiceID)
	}
	if err == nil && req.Language != "" {
		body, err = sjson.SetBytes(body, "language_iso_code", req.Language)
	}
	if err != nil {
		return nil, &Error{Category: CategoryGeneric, Err: err}
	}
	audio, err := z.client.Post(ctx, "zyphra.tts", "/audio/text-to-speech", credential, "", body)
	if err != nil {
		return nil, err
	}
	return newSpeech(audio)
}

func newSpeech(audio []byte) (*Speech, error) {
	if len(audio) == 0 {
		return nil, NewError(CategoryGeneric, "empty audio response")
	}
	s := &Speech{Audio: audio, ContentType: "audio/wav"}
	if d, err := WAVDuration(audio); err == nil {
		s.Duration = d
	} else {
		s.ContentType = "audio/mpeg"
	}
	return s, nil
}

// WAVDuration reads the playback length of a WAV file.
func WAVDuration(data []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("not a wav file")
	}
	return dec.Duration()
}
