package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRegisterFireUnregister(t *testing.T) {
	EventInitialize()
	defer EventShutdown()

	listener := &struct{ name string }{name: "test"}
	var got uint64
	require.True(t, EventRegister(EVENT_CODE_SWAPCHAIN_RECREATED, listener,
		func(code SystemEventCode, sender, listenerInst interface{}, data EventContext) bool {
			got = data.Data.U64[0]
			return true
		}))

	// Duplicate registration for the same listener is rejected.
	assert.False(t, EventRegister(EVENT_CODE_SWAPCHAIN_RECREATED, listener,
		func(code SystemEventCode, sender, listenerInst interface{}, data EventContext) bool {
			return false
		}))

	context := EventContext{}
	context.Data.U64[0] = 7
	assert.True(t, EventFire(EVENT_CODE_SWAPCHAIN_RECREATED, nil, context))
	assert.Equal(t, uint64(7), got)

	require.True(t, EventUnregister(EVENT_CODE_SWAPCHAIN_RECREATED, listener))
	assert.False(t, EventFire(EVENT_CODE_SWAPCHAIN_RECREATED, nil, context))
}

func TestEventFireStopsAtFirstHandler(t *testing.T) {
	EventInitialize()
	defer EventShutdown()

	first := &struct{ name string }{name: "first"}
	second := &struct{ name string }{name: "second"}
	var calls []string

	EventRegister(EVENT_CODE_DEVICE_LOST, first,
		func(code SystemEventCode, sender, listenerInst interface{}, data EventContext) bool {
			calls = append(calls, "first")
			return true
		})
	EventRegister(EVENT_CODE_DEVICE_LOST, second,
		func(code SystemEventCode, sender, listenerInst interface{}, data EventContext) bool {
			calls = append(calls, "second")
			return true
		})

	EventFire(EVENT_CODE_DEVICE_LOST, nil, EventContext{})
	assert.Equal(t, []string{"first"}, calls)
}
