package httpupload

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upqueue/internal/port"
)

func TestClient_Transfer_KeepsRetryPolicyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		checkErr error
		want     port.FailureKind
	}{
		{name: "context ended between attempts", checkErr: context.Canceled, want: port.FailureTransient},
		{name: "policy rejected response", checkErr: errors.New("redirect loop"), want: port.FailureFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Config{URL: srv.URL})
			require.NoError(t, err)
			c.http.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
				return false, tt.checkErr
			}

			_, err = c.Transfer(context.Background(), port.TransferInput{
				RequestID: "r1",
				Body:      bytes.NewReader([]byte("x")),
				Size:      1,
			})

			var tErr *port.TransferError
			require.True(t, errors.As(err, &tErr))
			assert.ErrorIs(t, err, tt.checkErr)
			assert.Equal(t, tt.want, tErr.Kind)
			assert.Equal(t, http.StatusBadGateway, tErr.StatusCode)
			assert.Equal(t, "bad gateway", tErr.Message)
		})
	}
}
