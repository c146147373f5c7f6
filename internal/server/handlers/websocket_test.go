package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLiveFeedClient_LateEventAfterCloseIsDropped(t *testing.T) {
	c := &LiveFeedClient{send: make(chan []byte, 4)}
	c.closeConnection()

	// A bridge callback can still fire behind the unsubscribe.
	assert.NotPanics(t, func() { c.enqueue([]byte(`{"type":"late"}`)) })
}

func TestLiveFeedClient_SlowConsumerDropsInsteadOfBlocking(t *testing.T) {
	c := &LiveFeedClient{send: make(chan []byte, 1)}

	c.enqueue([]byte("a"))
	c.enqueue([]byte("b"))

	assert.Len(t, c.send, 1, "a full queue drops rather than blocks")
	assert.Equal(t, []byte("a"), <-c.send)
}

func TestLiveFeedClient_CloseIsIdempotent(t *testing.T) {
	c := &LiveFeedClient{send: make(chan []byte, 1)}

	assert.NotPanics(t, func() {
		c.closeConnection()
		c.closeConnection()
	})
}
