package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWorkerDescriptorNormalizesIntents(t *testing.T) {
	d := NewWorkerDescriptor(" clock ", "Clock", "tells time", []string{"Time", " clock", "time", ""})

	assert.Equal(t, "clock", d.ID)
	assert.Equal(t, []string{"time", "clock"}, d.AcceptedIntents)
	assert.True(t, d.Accepts("TIME"))
	assert.False(t, d.Accepts("greeting"))
}

func TestWorkerDescriptorName(t *testing.T) {
	assert.Equal(t, "Greeter", WorkerDescriptor{ID: "greeter", DisplayName: "Greeter"}.Name())
	assert.Equal(t, "greeter", WorkerDescriptor{ID: "greeter"}.Name())
}

func TestWorkerDescriptorCloneIsDeep(t *testing.T) {
	d := NewWorkerDescriptor("greeter", "Greeter", "", []string{"greeting"})
	d.Examples = []string{"hello"}

	c := d.Clone()
	c.AcceptedIntents[0] = "mutated"
	c.Examples[0] = "mutated"

	assert.Equal(t, "greeting", d.AcceptedIntents[0])
	assert.Equal(t, "hello", d.Examples[0])
}
