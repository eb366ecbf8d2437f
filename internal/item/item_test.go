package item

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUrgencyOrder(t *testing.T) {
	assert.Less(t, UrgencyAlert, UrgencyNotification)
	assert.Less(t, UrgencyNotification, UrgencyNormal)
	assert.Equal(t, "notification", UrgencyNotification.String())
	assert.Equal(t, "unknown", Urgency(42).String())
}

func TestStandardActionsAreCopied(t *testing.T) {
	called := 0
	it := NewStandard("id", "", "Text", "Sub", NewFuncAction("run", func() { called++ }))

	actions := it.Actions()
	actions[0] = nil

	again := it.Actions()
	assert.NotNil(t, again[0])
	again[0].Activate()
	assert.Equal(t, 1, called)
	assert.Equal(t, "Text", it.Completion())
	assert.Equal(t, UrgencyNormal, it.Urgency())
}

func TestFuncActionNilFn(t *testing.T) {
	a := NewFuncAction("noop", nil)
	assert.NotPanics(t, a.Activate)
	assert.Equal(t, "noop", a.Text())
}
