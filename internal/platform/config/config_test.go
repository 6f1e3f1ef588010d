package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("ABR_TEST_STR", "x")
	assert.Equal(t, "x", GetEnv("ABR_TEST_STR", "y"))
	assert.Equal(t, "y", GetEnv("ABR_TEST_UNSET", "y"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("ABR_TEST_INT", "12")
	t.Setenv("ABR_TEST_BAD_INT", "twelve")
	assert.Equal(t, 12, GetEnvInt("ABR_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("ABR_TEST_BAD_INT", 1))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("ABR_TEST_DUR", "750ms")
	assert.Equal(t, 750*time.Millisecond, GetEnvDuration("ABR_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("ABR_TEST_UNSET", time.Second))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("ABR_TEST_LIST", " .m4s, ,.mp4 ")
	assert.Equal(t, []string{".m4s", ".mp4"}, GetEnvList("ABR_TEST_LIST", nil))
	t.Setenv("ABR_TEST_EMPTY_LIST", " , ")
	assert.Equal(t, []string{"a"}, GetEnvList("ABR_TEST_EMPTY_LIST", []string{"a"}))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ABR_TEST_FROM_FILE=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ABR_TEST_FROM_FILE") })

	require.NoError(t, Load(path))
	assert.Equal(t, "loaded", os.Getenv("ABR_TEST_FROM_FILE"))

	assert.NoError(t, Load(filepath.Join(dir, "missing.env")))

	t.Setenv("ABR_TEST_FROM_FILE", "from-env")
	require.NoError(t, Load(path))
	assert.Equal(t, "from-env", os.Getenv("ABR_TEST_FROM_FILE"), "environment wins over file")

	bad := filepath.Join(dir, "bad.env")
	require.NoError(t, os.WriteFile(bad, []byte("BAD-KEY=1\n"), 0o600))
	assert.Error(t, Load(bad))
}

func TestLoadLadder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ladder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
qualities:
  - resource: /video3
    bitrate: 300
  - resource: /video2
    bitrate: 1200
  - resource: /video1
    bitrate: 4300
`), 0o600))

	l, err := LoadLadder(path)
	require.NoError(t, err)
	assert.Equal(t, []int{300, 1200, 4300}, l.Bitrates())
	assert.Equal(t, "/video1", l.Qualities[2].Resource)
}

func TestLoadLadder_invalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("qualities: []\n"), 0o600))
	_, err := LoadLadder(empty)
	assert.Error(t, err)

	zero := filepath.Join(dir, "zero.yaml")
	require.NoError(t, os.WriteFile(zero, []byte("qualities:\n  - bitrate: 0\n"), 0o600))
	_, err = LoadLadder(zero)
	assert.Error(t, err)

	_, err = LoadLadder(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
