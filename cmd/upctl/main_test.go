package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueRejectsMalformedOptions(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"enqueue", "--uri", "file:///tmp/a", "--options", "[1,2]"})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "--options must be a JSON object")
}

func TestStatusRequiresID(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"status"})

	assert.Error(t, cmd.Execute())
}
