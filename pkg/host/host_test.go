package host_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/colonymem/pkg/host"
)

func TestNilHostIsTolerated(t *testing.T) {
	_, ok := host.RelationshipOf(nil, "a", "b")
	assert.False(t, ok)
	_, ok = host.MoodOf(nil, "a")
	assert.False(t, ok)
	_, ok = host.ActivityOf(nil, "a")
	assert.False(t, ok)
	assert.Equal(t, "fallback", host.DisplayName(nil, "x", "fallback"))
}

func TestStaticHost(t *testing.T) {
	h := host.NewStatic()
	h.SetRelationship("alice", "bob", host.Relationship{Kind: host.RelationPartner, Opinion: 80, Label: "wife"})
	h.AddEntity(host.Entity{ID: "bob", Name: "Bob"})
	h.Moods["alice"] = 0.7

	rel, ok := host.RelationshipOf(h, "alice", "bob")
	assert.True(t, ok)
	assert.Equal(t, host.RelationPartner, rel.Kind)
	assert.Equal(t, "partner", rel.Kind.String())

	_, ok = host.RelationshipOf(h, "bob", "alice")
	assert.False(t, ok)

	mood, ok := host.MoodOf(h, "alice")
	assert.True(t, ok)
	assert.Equal(t, 0.7, mood)

	assert.Equal(t, "Bob", host.DisplayName(h, "bob", "?"))

	h.Names = map[string]string{"bob": "Bobby"}
	assert.Equal(t, "Bobby", host.DisplayName(h, "bob", "?"))
}
