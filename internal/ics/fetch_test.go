package ics

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Fetch(t *testing.T) {
	body := feed(vevent("UID:a", "DTSTART:20240102T140000Z"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Contains(t, r.Header.Get("Accept"), "text/calendar")
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	got, err := NewFetcher(time.Second).Fetch(context.Background(), srv.URL+"/basic.ics")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetcher_StripsBOMAndInvalidUTF8(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("\xef\xbb\xbfBEGIN:VCALENDAR\r\nX-NAME:bad\xffbyte\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	got, err := NewFetcher(time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "BEGIN:VCALENDAR\r\nX-NAME:bad\uFFFDbyte\r\nEND:VCALENDAR\r\n", got)
}

func TestFetcher_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewFetcher(time.Second).Fetch(context.Background(), srv.URL+"/private/secret-token/basic.ics")
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestFetcher_RejectsOversizedFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("X"), maxFeedBytes+1))
	}))
	defer srv.Close()

	_, err := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, errFeedTooLarge)
	assert.Equal(t, http.StatusOK, fe.StatusCode)
}

func TestFetcher_AcceptsFeedAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("X"), maxFeedBytes))
	}))
	defer srv.Close()

	got, err := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, got, maxFeedBytes)
}

func TestFetcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewFetcher(50*time.Millisecond).Fetch(context.Background(), srv.URL)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.StatusCode)
}

func TestFetcher_EmptyURL(t *testing.T) {
	_, err := NewFetcher(0).Fetch(context.Background(), "")
	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"https://calendar.example.com/private/abcd/basic.ics":  "https://calendar.example.com/...(redacted)",
		"https://user:pw@calendar.example.com/feed.ics?key=1": "https://calendar.example.com/...(redacted)",
		"http://127.0.0.1:8080":                               "http://127.0.0.1:8080/...(redacted)",
		"not a url":                                           "ics://...(redacted)",
	}
	for in, want := range tests {
		assert.Equal(t, want, RedactURL(in), in)
	}
}
