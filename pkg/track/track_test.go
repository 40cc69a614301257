//nolint:thelper,lll // ok for tests
package track

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTrack = `
id: demo
name: Demo Circuit
length: 3000
corners:
  - id: 1
    name: T1
    entryS: 500
    apexS: 650
    exitS: 800
  - id: 2
    name: T2
    entryS: 1400
    apexS: 1500
    exitS: 1650
`

func writeTrack(t *testing.T, dir, name, content string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeTrack(t, dir, "demo.yml", sampleTrack)

	trk, err := Load(filepath.Join(dir, "demo.yml"))
	require.NoError(t, err)
	assert.Equal(t, "demo", trk.ID)
	assert.Len(t, trk.Corners, 2)
	c, ok := trk.Corner(2)
	require.True(t, ok)
	assert.Equal(t, 1500.0, c.ApexS)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeTrack(t, dir, "noid.yml", "name: x\nlength: 100\n")
	writeTrack(t, dir, "order.yml", `
id: bad
length: 3000
corners:
  - {id: 1, entryS: 800, apexS: 650, exitS: 900}
`)
	writeTrack(t, dir, "long.yml", `
id: bad
length: 700
corners:
  - {id: 1, entryS: 500, apexS: 650, exitS: 800}
`)

	for _, name := range []string{"noid.yml", "order.yml", "long.yml"} {
		_, err := Load(filepath.Join(dir, name))
		assert.Error(t, err, name)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeTrack(t, dir, "demo.yaml", sampleTrack)
	writeTrack(t, dir, "other.yml", `
id: other
name: Other
length: 2000
corners:
  - {id: 1, name: T1, entryS: 300, apexS: 400, exitS: 500}
`)
	writeTrack(t, dir, "notes.txt", "ignored")

	tracks, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, tracks, 2)
	assert.Contains(t, tracks, "demo")
	assert.Contains(t, tracks, "other")
}
