package audio_test

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/corpus/pkg/audio"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

func TestPutIsContentAddressed(t *testing.T) {
	store, err := audio.NewStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	payload := "RIFF fake audio payload"
	sha, path, size, err := store.Put(strings.NewReader(payload), "wav")
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(payload))
	assert.Equal(t, hex.EncodeToString(sum[:]), sha)
	assert.Equal(t, int64(len(payload)), size)
	assert.True(t, strings.HasSuffix(path, sha+".wav"))

	r, err := store.Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
}

func TestPutIdenticalBytesReturnsSameRef(t *testing.T) {
	store, err := audio.NewStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	sha1, path1, _, err := store.Put(strings.NewReader("same bytes"), "wav")
	require.NoError(t, err)
	sha2, path2, _, err := store.Put(strings.NewReader("same bytes"), "wav")
	require.NoError(t, err)

	assert.Equal(t, sha1, sha2)
	assert.Equal(t, path1, path2)
}

func TestPutRejectsOversizedUpload(t *testing.T) {
	store, err := audio.NewStore(t.TempDir(), 8)
	require.NoError(t, err)

	_, _, _, err = store.Put(strings.NewReader("well over eight bytes"), "wav")
	assert.ErrorIs(t, err, corpuserr.ErrPayloadTooLarge)
}

func TestPutRejectsEmptyUpload(t *testing.T) {
	store, err := audio.NewStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	_, _, _, err = store.Put(strings.NewReader(""), "wav")
	assert.ErrorIs(t, err, corpuserr.ErrValidation)
}

func TestOpenMissingRef(t *testing.T) {
	store, err := audio.NewStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	_, err = store.Open("no/such/file.wav")
	assert.ErrorIs(t, err, corpuserr.ErrNotFound)
}
