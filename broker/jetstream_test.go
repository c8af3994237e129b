package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDurablePerQueueOverride(t *testing.T) {
	b := &JetStreamBroker{durables: make(map[string]string)}
	WithDurable("status-events", "status-writer")(b)

	assert.Equal(t, "status-writer", b.durableFor("status-events"))
	assert.Equal(t, defaultDurable, b.durableFor("write"))
}

func TestStreamNaming(t *testing.T) {
	b := &JetStreamBroker{prefix: "DOCWRITER"}
	assert.Equal(t, "DOCWRITER_DIAGRAM_RENDER", b.streamName("diagram-render"))
	assert.Equal(t, "docwriter.queue.diagram-render", b.subject("diagram-render"))
}
