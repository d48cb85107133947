package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_ProjectsResourceTypeIDMeta(t *testing.T) {
	raw := []byte(`{
		"resourceType": "Patient",
		"id": "p1",
		"meta": {"versionId": "2", "lastUpdated": "2024-01-02T03:04:05Z"},
		"name": [{"family": "Smith"}]
	}`)

	env, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, "Patient", env.ResourceType)
	assert.Equal(t, "p1", env.ID)
	assert.Equal(t, "2", env.VersionID)
	assert.Equal(t, 2024, env.LastUpdated.Year())
	assert.NotContains(t, env.Content, "resourceType")
	assert.NotContains(t, env.Content, "id")
	assert.NotContains(t, env.Content, "meta")
	assert.Contains(t, env.Content, "name")
}

func TestDecode_MissingResourceTypeFails(t *testing.T) {
	_, err := Decode([]byte(`{"id": "p1"}`))
	assert.Error(t, err)
}

func TestEncode_RoundTrip(t *testing.T) {
	raw := []byte(`{"resourceType":"Patient","id":"p1","meta":{"versionId":"1","lastUpdated":"2024-01-02T03:04:05Z"},"name":[{"family":"Smith"}]}`)

	env, err := Decode(raw)
	require.NoError(t, err)

	out, err := Encode(env)
	require.NoError(t, err)

	again, err := Decode(out)
	require.NoError(t, err)

	assert.Equal(t, env.ResourceType, again.ResourceType)
	assert.Equal(t, env.ID, again.ID)
	assert.Equal(t, env.VersionID, again.VersionID)
	assert.Equal(t, env.Content, again.Content)
}

func TestEncode_OmitsMetaWhenEmpty(t *testing.T) {
	env := &Envelope{
		ResourceType: "Patient",
		ID:           "p1",
		Content:      map[string]interface{}{},
	}
	out, err := Encode(env)
	require.NoError(t, err)
	assert.NotContains(t, string(out), `"meta"`)
}

func TestEncode_DoesNotMutateSourceContent(t *testing.T) {
	content := map[string]interface{}{"name": "untouched"}
	env := &Envelope{ResourceType: "Patient", ID: "p1", Content: content, LastUpdated: time.Now()}
	_, err := Encode(env)
	require.NoError(t, err)
	_, hasResourceType := content["resourceType"]
	assert.False(t, hasResourceType, "Encode must not mutate the caller's Content map")
}
