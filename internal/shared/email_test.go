package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldEmail(t *testing.T) {
	assert.Equal(t, "ana@example.com", FoldEmail("  Ana@Example.COM "))
	assert.Equal(t, FoldEmail("STRASSE@example.com"), FoldEmail("straße@example.com"))
}
