package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "INGENIERIA CIVIL", Normalize("  Ingeniería   civil "))
	assert.Equal(t, "CREDITO TECNOLOGICO", Normalize("Crédito Tecnológico"))
	assert.Equal(t, "ANO", Normalize("Año"))
	assert.Empty(t, Normalize("   "))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("Ingeniería", "INGENIERIA"))
	assert.True(t, Equal("Medicina ", "medicina"))
	assert.False(t, Equal("Derecho", "Medicina"))
}
