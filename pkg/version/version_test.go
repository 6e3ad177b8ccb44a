package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullVersionContainsFields(t *testing.T) {
	Version = "1.2.3"
	GitCommit = "abcdef"
	BuildTime = "now"

	fv := FullVersion()
	assert.NotEmpty(t, fv)
	assert.Contains(t, fv, "1.2.3")
	assert.Contains(t, fv, "abcdef")
	assert.Contains(t, fv, "now")

	assert.Equal(t, "controlplaned/1.2.3", UserAgent())
}
