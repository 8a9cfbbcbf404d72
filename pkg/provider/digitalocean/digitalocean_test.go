package digitalocean

import (
	"net/http"
	"testing"

	"github.com/digitalocean/godo"
	"github.com/stretchr/testify/assert"
)

func TestHasAllTagsRequiresEveryFilterTag(t *testing.T) {
	assert.True(t, hasAllTags([]string{"status:active", "project:demo"}, []string{"status:active"}))
	assert.False(t, hasAllTags([]string{"status:active"}, []string{"status:active", "project:demo"}))
	assert.True(t, hasAllTags([]string{"status:active"}, nil))
}

func TestNormalizeTagsTrimsWhitespace(t *testing.T) {
	assert.Equal(t, []string{"status:active", "project:demo"}, normalizeTags([]string{" status:active", "project:demo "}))
}

func TestParseCreatedAtFallsBackToZeroValue(t *testing.T) {
	assert.True(t, parseCreatedAt("not-a-timestamp").IsZero())
	assert.False(t, parseCreatedAt("2024-01-02T15:04:05Z").IsZero())
}

func TestIsConflictChecksStatusCode(t *testing.T) {
	assert.True(t, isConflict(&godo.ErrorResponse{Response: &http.Response{StatusCode: 409}}))
	assert.False(t, isConflict(&godo.ErrorResponse{Response: &http.Response{StatusCode: 500}}))
	assert.False(t, isConflict(assert.AnError))
}
