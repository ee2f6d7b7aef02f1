package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "station.json", `{
		"station_id": "studio-1",
		"name": "My Station",
		"signaling": {"url": "wss://signal.example.com"},
		"ice": {"stun": ["stun:stun.example.com:19302"]}
	}`)

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "studio-1", m.StationID)
	assert.Equal(t, "wss://signal.example.com", m.Signaling.URL)
	assert.Equal(t, []string{"stun:stun.example.com:19302"}, m.ICE.STUN)
	assert.Equal(t, 6736, m.Port)
}

func TestLoad_MissingFieldsFail(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "station.json", `{"station_id": "studio-1"}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_BadSignalingScheme(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "station.json", `{
		"station_id": "studio-1",
		"name": "My Station",
		"signaling": {"url": "http://signal.example.com"},
		"ice": {"stun": ["stun:stun.example.com:19302"]}
	}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_FallsBackToSampleManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "station.json")
	writeManifest(t, dir, "station.json.sample", `{
		"station_id": "studio-sample",
		"name": "Sample Station",
		"signaling": {"url": "ws://signal.example.com"},
		"ice": {"stun": ["stun:stun.example.com:19302"]}
	}`)

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "studio-sample", m.StationID)
}
