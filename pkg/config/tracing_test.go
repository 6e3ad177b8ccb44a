package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracingConfigNormalizeMergesEnv(t *testing.T) {
	cfg := TracingConfig{
		ResourceAttributes: map[string]string{"existing": "value"},
		AttributesEnv:      "foo=bar, empty= , =skip ,trim = spaced ",
	}
	cfg.normalize()

	assert.Equal(t, "bar", cfg.ResourceAttributes["foo"])
	assert.Equal(t, "spaced", cfg.ResourceAttributes["trim"])
	_, hasEmptyKey := cfg.ResourceAttributes[""]
	assert.False(t, hasEmptyKey, "empty keys should be skipped")
	assert.Equal(t, "value", cfg.ResourceAttributes["existing"], "existing attributes should not be overwritten")
}

func TestTracingConfigMergeAttributes(t *testing.T) {
	cfg := TracingConfig{}
	cfg.MergeAttributes("a=1,b=2")
	assert.Len(t, cfg.ResourceAttributes, 2)
	assert.Equal(t, "1", cfg.ResourceAttributes["a"])
	assert.Equal(t, "2", cfg.ResourceAttributes["b"])
}
