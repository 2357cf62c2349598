package notify

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aolab/tsmux/mxlog"
)

func TestNotifyLivePostsToConfiguredURL(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log := mxlog.NewWriter(io.Discard, mxlog.Debug)
	n := New(srv.URL, "", time.Second, log)
	defer n.Close()

	n.NotifyLive(time.Now())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, 10*time.Millisecond)
}

func TestNotifyDropsWhenURLUnset(t *testing.T) {
	log := mxlog.NewWriter(io.Discard, mxlog.Debug)
	n := New("", "", time.Second, log)
	defer n.Close()
	n.NotifyFallback(time.Now())
	time.Sleep(10 * time.Millisecond) // No panic, no block; nothing to assert on.
}
