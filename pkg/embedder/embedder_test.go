package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/chronograph/pkg/nlp"
)

func TestEmbedTimeoutClassifiedTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"data": []}`)
	}))
	defer ts.Close()

	client, err := NewOpenAIClient(Config{BaseURL: ts.URL, Dimensions: 8, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, nlp.IsRetryable(err))
}

func TestTimeoutDefaults(t *testing.T) {
	client, err := NewOpenAIClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, client.config.Timeout)

	// Negative disables the per-call deadline and is preserved as-is.
	client, err = NewOpenAIClient(Config{Timeout: -time.Second})
	require.NoError(t, err)
	assert.Equal(t, -time.Second, client.config.Timeout)
}
