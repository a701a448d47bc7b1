package speech_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/corpus/pkg/speech"
)

func writeAudio(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestTranscribeIsDeterministic(t *testing.T) {
	path := writeAudio(t, "RIFF fake audio payload")
	stub := speech.LocalStub{}
	ctx := context.Background()

	a, err := stub.Transcribe(ctx, path)
	require.NoError(t, err)
	b, err := stub.Transcribe(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.Len(t, a, 1)
	assert.Contains(t, a[0].Text, "[transcript ")
}

func TestDiarizeLabelsTwoSpeakers(t *testing.T) {
	path := writeAudio(t, "RIFF fake audio payload")
	stub := speech.LocalStub{}

	segments, err := stub.Diarize(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "SPEAKER_00", segments[0].Speaker)
	assert.Equal(t, "SPEAKER_01", segments[1].Speaker)
	assert.Equal(t, segments[0].EndMS, segments[1].StartMS)
}

func TestMissingFileFails(t *testing.T) {
	stub := speech.LocalStub{}
	_, err := stub.Transcribe(context.Background(), "no/such/audio.wav")
	assert.Error(t, err)
}
