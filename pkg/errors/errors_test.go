package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContextChains(t *testing.T) {
	err := WithContext(WithContext(New("no such file"), "open"), "snapshot source")
	assert.Equal(t, "snapshot source: open: no such file", err.Error())
}

func TestAsSeesThroughContext(t *testing.T) {
	err := WithContext(NotFoundError{Kind: "mirror", ID: "abc"}, "sync")

	var notFound NotFoundError
	assert.True(t, As(err, &notFound))
	assert.Equal(t, "mirror", notFound.Kind)
	assert.Equal(t, "abc", notFound.ID)

	var validation ValidationError
	assert.False(t, As(err, &validation))
}

func TestGetPrintableMessage(t *testing.T) {
	friendly := NewFriendlyError("The target path %q is not empty.", "/media/pt")
	assert.Equal(t, `The target path "/media/pt" is not empty.`,
		GetPrintableMessage(WithContext(friendly, "create mirror")))

	plain := WithContext(New("boom"), "create mirror")
	assert.Equal(t, "create mirror: boom", GetPrintableMessage(plain))
}

func TestConflictError(t *testing.T) {
	err := ConflictError{AlternativeID: "alt", NewMirrorIDs: []string{"m1", "m2"}}
	assert.Contains(t, err.Error(), "m1, m2")
}
