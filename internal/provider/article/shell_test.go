package article

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webharvest/harvester/internal/content"
)

func TestLooksLikeAppShell(t *testing.T) {
	t.Parallel()

	require.True(t, looksLikeAppShell(nil), "an empty body carries no content")
	require.True(t, looksLikeAppShell([]byte(`<html><body><div id="root"></div></body></html>`)))
	require.True(t, looksLikeAppShell([]byte(`<html><body><div id="__next"></div></body></html>`)))
	require.True(t, looksLikeAppShell([]byte(`<script>window.__INITIAL_STATE__={}</script>`)))

	scriptHeavy := []byte(`<html><body><p>hi</p><script>` + string(bytes.Repeat([]byte("x"), 400)) + `</script></body></html>`)
	require.True(t, looksLikeAppShell(scriptHeavy), "a small script-dominated body is a shell")

	require.False(t, looksLikeAppShell([]byte(articleHTML)), "server-rendered articles pass through")

	bigDoc := append([]byte(articleHTML), bytes.Repeat([]byte("<p>prose</p>"), 400)...)
	bigDoc = append(bigDoc, []byte(`<script>analytics()</script>`)...)
	require.False(t, looksLikeAppShell(bigDoc), "large documents tolerate some script")
}

func TestScriptDensityCountsUnterminatedTags(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, scriptDensity([]byte("<p>no scripts here</p>")))
	// An unterminated script covers everything after its open tag.
	body := []byte(`<p>x</p><script>forever`)
	require.GreaterOrEqual(t, scriptDensity(body), 50)
}

func TestAcquireShellPromotesToRenderedStrategy(t *testing.T) {
	t.Parallel()

	shell := `<!DOCTYPE html><html><body><div id="app"></div><script src="/bundle.js"></script></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(shell))
	}))
	defer srv.Close()

	_, err := testStrategy(testRules()).Acquire(context.Background(), content.AcquisitionRequest{
		Target: srv.URL + "/note/1",
	})
	require.Error(t, err)
	require.Equal(t, content.KindStructural, content.Classify(err), "shells advance the ladder, they are not retried")
}
