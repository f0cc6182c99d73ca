package alert

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBridge(t *testing.T) (*Bridge, *int32) {
	t.Helper()
	b := NewBridge(zap.NewNop())
	var runs int32
	b.run = func(context.Context, ...chromedp.Action) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}
	t.Cleanup(b.Close)
	return b, &runs
}

func TestInstallIsIdempotent(t *testing.T) {
	b, runs := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, b.Install(ctx, "T1"))
	require.NoError(t, b.Install(ctx, "T1"))
	require.NoError(t, b.Install(ctx, "T2"))

	assert.Equal(t, int32(2), atomic.LoadInt32(runs))
	assert.True(t, b.Installed("T1"))

	b.Forget("T1")
	assert.False(t, b.Installed("T1"))
}

func TestInstallFailureCanBeRetried(t *testing.T) {
	b := NewBridge(zap.NewNop())
	defer b.Close()
	fail := true
	b.run = func(context.Context, ...chromedp.Action) error {
		if fail {
			return errors.New("cdp down")
		}
		return nil
	}

	err := b.Install(context.Background(), "T1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert: failed to install hook")
	assert.False(t, b.Installed("T1"))

	fail = false
	require.NoError(t, b.Install(context.Background(), "T1"))
	assert.True(t, b.Installed("T1"))
}

func TestHookScriptIsGuarded(t *testing.T) {
	src := HookScript()
	assert.True(t, strings.Contains(src, "if (window.__mmAlertHooked) return;"))
	assert.Contains(t, src, BindingName)
}

func TestCaptureDeduplicatesSameText(t *testing.T) {
	b, _ := newTestBridge(t)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }

	ch, cancel := b.Subscribe()
	defer cancel()

	b.HandleBinding("T1", &runtime.EventBindingCalled{Name: BindingName, Payload: "아이디 또는 비밀번호를 확인해주세요"})
	b.HandleDialog(context.Background(), "T1", &page.EventJavascriptDialogOpening{Type: page.DialogTypeAlert, Message: "아이디 또는 비밀번호를 확인해주세요"})
	assert.Len(t, ch, 1, "binding and dialog reporting the same alert deliver once")

	now = now.Add(time.Second)
	b.Capture("T1", "아이디 또는 비밀번호를 확인해주세요")
	assert.Len(t, ch, 2, "a repeat after the window is a new alert")

	b.Capture("T2", "아이디 또는 비밀번호를 확인해주세요")
	assert.Len(t, ch, 3, "other tabs are tracked separately")
}

func TestHandleBindingIgnoresOtherBindings(t *testing.T) {
	b, _ := newTestBridge(t)
	assert.False(t, b.HandleBinding("T1", &runtime.EventBindingCalled{Name: "somethingElse", Payload: "x"}))
	assert.False(t, b.HandleBinding("T1", nil))
}

func TestHandleDialogDismissesNonAlert(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	b := NewBridge(zap.New(core))
	defer b.Close()
	var runs int32
	b.run = func(context.Context, ...chromedp.Action) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}
	b.HandleDialog(context.Background(), "T1", &page.EventJavascriptDialogOpening{Type: page.DialogTypeConfirm, Message: "leave?"})
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Equal(t, 0, logs.FilterMessage("Captured page alert").Len())
}

func TestListenReturnsFirstAlertForTarget(t *testing.T) {
	b, _ := newTestBridge(t)
	wait, stop := b.Listen("T1")
	defer stop()

	go func() {
		b.Capture("T2", "other tab")
		b.Capture("T1", "로봇이 아님을 확인해주세요")
		b.Capture("T1", "second")
	}()

	text, err := wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "로봇이 아님을 확인해주세요", text)
}

func TestListenTimesOutEmpty(t *testing.T) {
	b, _ := newTestBridge(t)
	wait, stop := b.Listen("T1")
	defer stop()

	text, err := wait(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, text)
}
