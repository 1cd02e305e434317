package host

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripts []string

func (s *scripts) Run(script string) { *s = append(*s, script) }

func TestRequestFullscreenRelaysScript(t *testing.T) {
	var sent scripts
	d := NewDocument(&sent)

	d.RequestFullscreen("map-container", nil)
	d.ExitFullscreen()

	assert.Equal(t, scripts{
		`window.viewerRequestFullscreen("map-container")`,
		`window.viewerExitFullscreen()`,
	}, sent)
	assert.Empty(t, d.FullscreenElement(), "state follows notifications only")
}

func TestNotifyFullscreenChange(t *testing.T) {
	d := NewDocument(BridgeFunc(func(string) {}))
	var seen []string
	remove := d.OnFullscreenChange(func(el string) { seen = append(seen, el) })

	d.NotifyFullscreenChange("map-container")
	assert.Equal(t, "map-container", d.FullscreenElement())
	d.NotifyFullscreenChange("")
	assert.Empty(t, d.FullscreenElement())
	assert.Equal(t, []string{"map-container", ""}, seen)

	remove()
	remove()
	assert.Zero(t, d.ListenerCount())
	d.NotifyFullscreenChange("map-container")
	assert.Len(t, seen, 2)
}

func TestRejectCallsPendingOnce(t *testing.T) {
	d := NewDocument(BridgeFunc(func(string) {}))
	var errs []error
	d.RequestFullscreen("map-container", func(err error) { errs = append(errs, err) })

	d.Reject("Permissions check failed")
	d.Reject("again")

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "Permissions check failed")
}

func TestSuccessfulChangeSettlesPending(t *testing.T) {
	d := NewDocument(BridgeFunc(func(string) {}))
	called := false
	d.RequestFullscreen("map-container", func(error) { called = true })

	d.NotifyFullscreenChange("map-container")
	d.Reject("late")
	assert.False(t, called)
}

func TestDetachedDocumentRejects(t *testing.T) {
	d := NewDocument(nil)
	var got error
	d.RequestFullscreen("map-container", func(err error) { got = err })
	assert.True(t, errors.Is(got, ErrDetached))

	d = NewDocument(BridgeFunc(func(string) {}))
	got = nil
	d.RequestFullscreen("map-container", func(err error) { got = err })
	d.Detach()
	assert.ErrorIs(t, got, ErrDetached)
}
