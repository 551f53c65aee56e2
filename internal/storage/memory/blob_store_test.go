package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "crawls/job-1/results.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://crawls/job-1/results.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'

	stored, contentType, ok := store.Object("crawls/job-1/results.json")
	if !ok {
		t.Fatal("expected object to exist")
	}
	if string(stored) != "content" || contentType != "application/json" {
		t.Fatalf("unexpected stored object %q (%s)", stored, contentType)
	}
	stored[0] = 'X'
	again, _, _ := store.Object("crawls/job-1/results.json")
	if string(again) != "content" {
		t.Fatalf("expected Object to return a copy, got %q", again)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestBlobStorePutObjectErrors(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.PutObject(context.Background(), "", "text/plain", bytes.NewReader(nil)); err == nil {
		t.Fatal("expected empty path error")
	}
	if _, err := store.PutObject(context.Background(), "x", "text/plain", failingReader{}); err == nil {
		t.Fatal("expected reader error")
	}
	if _, _, ok := store.Object("x"); ok {
		t.Fatal("failed writes must not store anything")
	}
}
