package hetzner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagsToLabelsRoundTrip(t *testing.T) {
	tags := []string{"status:active", "project:demo", "solo"}
	labels := tagsToLabels(tags)
	assert.Equal(t, "active", labels["status"])
	assert.Equal(t, "demo", labels["project"])
	assert.Equal(t, "", labels["solo"])

	back := labelsToTags(labels)
	assert.ElementsMatch(t, tags, back)
}

func TestLabelSelectorBuildsEqualityClauses(t *testing.T) {
	sel := labelSelector([]string{"status:active", "project:demo"})
	assert.Contains(t, sel, "status==active")
	assert.Contains(t, sel, "project==demo")
}

func TestLabelSelectorEmptyFilterIsEmptyString(t *testing.T) {
	assert.Equal(t, "", labelSelector(nil))
}
