package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPut_StoresACopyAndReturnsAMemoryURL(t *testing.T) {
	s := New()
	content := []byte("audio bytes")

	url, err := s.Put(context.Background(), "run-1/audio.wav", content, "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, "memory://run-1/audio.wav", url)

	content[0] = 'X'
	stored, ok := s.Get("run-1/audio.wav")
	require.True(t, ok)
	assert.Equal(t, byte('a'), stored[0], "Put must store a defensive copy")
}

func TestSignedURL_ErrorsForUnknownKey(t *testing.T) {
	s := New()
	_, err := s.SignedURL(context.Background(), "absent", 3600)
	assert.Error(t, err)
}

func TestSignedURL_IncludesTTLForExistingKey(t *testing.T) {
	s := New()
	_, err := s.Put(context.Background(), "k", []byte("v"), "text/plain")
	require.NoError(t, err)

	url, err := s.SignedURL(context.Background(), "k", 120)
	require.NoError(t, err)
	assert.Equal(t, "memory://k?ttl=120", url)
}
