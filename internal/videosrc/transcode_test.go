package videosrc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/videosrc"
)

func TestIsWebContainer_RecognizesKnownExtensions(t *testing.T) {
	assert.True(t, videosrc.IsWebContainer("clip.webm"))
	assert.True(t, videosrc.IsWebContainer("clip.WEBM"))
	assert.True(t, videosrc.IsWebContainer("clip.mkv"))
	assert.True(t, videosrc.IsWebContainer("clip.ogv"))
	assert.True(t, videosrc.IsWebContainer("clip.ogg"))
}

func TestIsWebContainer_RejectsOtherExtensions(t *testing.T) {
	assert.False(t, videosrc.IsWebContainer("clip.mp4"))
	assert.False(t, videosrc.IsWebContainer("clip.mov"))
	assert.False(t, videosrc.IsWebContainer("clip"))
}
