package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castlemilk/pricelake/backend/internal/apperr"
)

func TestClient_OCR_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		require.Len(t, req.Messages[0].Content, 1)
		require.Equal(t, "image_url", req.Messages[0].Content[0].Type)

		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{{Message: struct {
				Content string `json:"content"`
			}{Content: "| a | b |\n|---|---|"}}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	md, err := c.OCR(context.Background(), []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	require.Contains(t, md, "| a | b |")
}

func TestClient_OCR_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{{Message: struct {
				Content string `json:"content"`
			}{Content: "ok"}}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.httpClient = srv.Client()
	c.retryConfig.InitialDelay = 1
	c.retryConfig.MaxDelay = 2

	md, err := c.OCR(context.Background(), []byte{1}, "image/png")
	require.NoError(t, err)
	require.Equal(t, "ok", md)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_OCR_4xxDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.OCR(context.Background(), []byte{1}, "image/png")
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.KindUpstream, appErr.Kind)
	require.False(t, appErr.Retryable)
}
