package llm

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/domain"
)

func collectDeltas(ch <-chan domain.StreamDelta) []domain.StreamDelta {
	var out []domain.StreamDelta
	for d := range ch {
		out = append(out, d)
	}
	return out
}

func textParser(data []byte) (*domain.StreamDelta, error) {
	if string(data) == "INVALID" {
		return nil, io.ErrUnexpectedEOF
	}
	return &domain.StreamDelta{Content: string(data)}, nil
}

func TestParseSSEStreamBasic(t *testing.T) {
	raw := "data: hello\n\ndata:world\n\ndata: [DONE]\n\n"
	deltas := collectDeltas(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textParser))

	require.Len(t, deltas, 3)
	assert.Equal(t, "hello", deltas[0].Content)
	assert.Equal(t, "world", deltas[1].Content)
	assert.True(t, deltas[2].Done)
}

func TestParseSSEStreamSkipsCommentsAndFields(t *testing.T) {
	raw := ": keepalive\nevent: message\nid: 1\ndata: ok\n\n"
	deltas := collectDeltas(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textParser))

	require.Len(t, deltas, 2)
	assert.Equal(t, "ok", deltas[0].Content)
	assert.True(t, deltas[1].Done, "EOF without [DONE] still terminates with Done")
}

func TestParseSSEStreamSkipsParseErrors(t *testing.T) {
	raw := "data: INVALID\ndata: good\n"
	deltas := collectDeltas(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textParser))

	require.Len(t, deltas, 2)
	assert.Equal(t, "good", deltas[0].Content)
}

func TestParseSSEStreamStopsOnDoneDelta(t *testing.T) {
	raw := "data: a\ndata: b\ndata: c\n"
	parser := func(data []byte) (*domain.StreamDelta, error) {
		return &domain.StreamDelta{Content: string(data), Done: string(data) == "b"}, nil
	}
	deltas := collectDeltas(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), parser))

	require.Len(t, deltas, 2)
	assert.True(t, deltas[1].Done)
}

func TestParseSSEStreamContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		for range 100 {
			if _, err := pw.Write([]byte("data: x\n\n")); err != nil {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	deltas := collectDeltas(parseSSEStream(ctx, pr, textParser))
	assert.Less(t, len(deltas), 100)
}
