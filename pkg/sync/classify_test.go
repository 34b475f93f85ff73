package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifierExtensions(t *testing.T) {
	c := NewClassifier(nil, []string{".nfo", "jpg"})

	assert.True(t, c.Qualifies("Movies/Heat (1995)/Heat.mkv"))
	assert.False(t, c.Qualifies("Movies/Heat (1995)/Heat.nfo"))
	assert.False(t, c.Qualifies("Movies/Heat (1995)/poster.jpg"))
	// Extension match is case-insensitive.
	assert.False(t, c.Qualifies("Movies/Heat (1995)/POSTER.JPG"))
	assert.True(t, c.Qualifies("Movies/Heat (1995)/Heat.en.srt"))
}

func TestClassifierDirectoriesAtAnyDepth(t *testing.T) {
	c := NewClassifier([]string{"extrafanart", ".trickplay"}, nil)

	assert.True(t, c.Qualifies("Movies/Heat (1995)/Heat.mkv"))
	assert.False(t, c.Qualifies("extrafanart/fanart1.mkv"))
	assert.False(t, c.Qualifies("Movies/Heat (1995)/extrafanart/fanart1.mkv"))
	assert.False(t, c.Qualifies("Movies/Heat (1995)/.trickplay/deep/nested/tile.mkv"))
	// Only directory components count, not the file name.
	assert.True(t, c.Qualifies("Movies/Heat (1995)/extrafanart"))
}

func TestClassifierExcludesDir(t *testing.T) {
	c := NewClassifier([]string{"Extrafanart"}, nil)

	assert.True(t, c.ExcludesDir("extrafanart"))
	assert.True(t, c.ExcludesDir("EXTRAFANART"))
	assert.False(t, c.ExcludesDir("fanart"))
}
