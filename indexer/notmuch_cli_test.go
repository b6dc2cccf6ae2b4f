package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageIDFromLine(t *testing.T) {
	assert.Equal(t, "abc@example.com", messageIDFromLine(`id:"abc@example.com"`))
	assert.Equal(t, "abc@example.com", messageIDFromLine(`id:abc@example.com`))
}

func TestDocIDFromMessageIDIsStableAndPositive(t *testing.T) {
	a := docIDFromMessageID("abc@example.com")
	b := docIDFromMessageID("abc@example.com")
	c := docIDFromMessageID("xyz@example.com")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, a >= 0)
}

func TestNotmuchCLIDefaultsBinary(t *testing.T) {
	n := &NotmuchCLI{}
	assert.Equal(t, "notmuch", n.binary())
	n.Binary = "/usr/local/bin/notmuch"
	assert.Equal(t, "/usr/local/bin/notmuch", n.binary())
}
