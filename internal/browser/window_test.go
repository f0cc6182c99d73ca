// internal/browser/window_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterCookies(t *testing.T) {
	cookies := []Cookie{
		{Name: "a", Domain: ".musinsa.com"},
		{Name: "b", Domain: "www.musinsa.com"},
		{Name: "c", Domain: "goods.musinsa.com"},
		{Name: "d", Domain: "notmusinsa.com"},
		{Name: "e", Domain: ".google.com"},
	}
	got := FilterCookies(cookies, "musinsa.com")
	names := make([]string, 0, len(got))
	for _, c := range got {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestCombineContext(t *testing.T) {
	type key struct{}
	page := context.WithValue(context.Background(), key{}, "tab")
	op, cancelOp := context.WithCancel(context.Background())

	combined, cancel := CombineContext(page, op)
	defer cancel()
	assert.Equal(t, "tab", combined.Value(key{}))

	cancelOp()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not canceled by operation context")
	}
}

func TestDetachIgnoresParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()
	d := Detach(parent)
	require.NoError(t, d.Err())
	_, ok := d.Deadline()
	assert.False(t, ok)
	assert.Nil(t, d.Done())
}
