package progress

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

func TestStreamDeliversInOrder(t *testing.T) {
	t.Parallel()

	stream := NewStream(0)
	go func() {
		ctx := context.Background()
		_ = stream.Emit(ctx, sampleEvent(TypeProgress))
		_ = stream.Emit(ctx, sampleEvent(TypeResult))
		_ = stream.Emit(ctx, sampleEvent(TypeComplete))
		stream.Close()
	}()

	var got []Type
	for evt := range stream.Events() {
		got = append(got, evt.Type)
	}
	require.Equal(t, []Type{TypeProgress, TypeResult, TypeComplete}, got)
	require.ErrorIs(t, stream.Emit(context.Background(), sampleEvent(TypeProgress)), ErrStreamClosed)
}

func TestStreamDetachUnblocksEmit(t *testing.T) {
	t.Parallel()

	stream := NewStream(0)
	errCh := make(chan error, 1)
	go func() {
		errCh <- stream.Emit(context.Background(), sampleEvent(TypeProgress))
	}()

	time.Sleep(20 * time.Millisecond)
	stream.Detach()
	stream.Detach()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClientDisconnected)
		require.ErrorIs(t, err, crawler.ErrClientDisconnect)
	case <-time.After(time.Second):
		t.Fatal("emit stayed blocked after detach")
	}
	require.ErrorIs(t, stream.Emit(context.Background(), sampleEvent(TypeProgress)), ErrClientDisconnected)
	stream.Close()
}

func TestStreamEmitHonoursContext(t *testing.T) {
	t.Parallel()

	stream := NewStream(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := stream.Emit(ctx, sampleEvent(TypeProgress))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTeeJoinsErrors(t *testing.T) {
	t.Parallel()

	var seen []Type
	record := EmitterFunc(func(_ context.Context, evt Event) error {
		seen = append(seen, evt.Type)
		return nil
	})
	failing := EmitterFunc(func(context.Context, Event) error { return ErrClientDisconnected })

	err := Tee(record, nil, failing, Discard).Emit(context.Background(), sampleEvent(TypeError))
	require.ErrorIs(t, err, ErrClientDisconnected)
	require.Equal(t, []Type{TypeError}, seen)
	require.NoError(t, Tee(record).Emit(context.Background(), sampleEvent(TypeProgress)))
}

func TestEventPayloads(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(sampleEvent(TypeProgress).Frame())
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"progress","data":{"status":"running","attempted":1,"successful":1,"progress":25,"message":"crawling","linksFound":2}}`, string(raw))

	raw, err = json.Marshal(NewComplete("job-1", time.Now(), crawler.Report{
		Status: crawler.CompletionCanceled,
		Stats:  crawler.Stats{Attempted: 2, Successful: 1, Budget: 10},
	}).Payload())
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"canceled","attempted":2,"successful":1,"progress":100,"crawledUrls":[],"results":[]}`, string(raw))

	raw, err = json.Marshal(sampleEvent(TypeError).Payload())
	require.NoError(t, err)
	require.JSONEq(t, `{"attempted":1,"successful":1,"progress":25,"currentUrl":"https://example.com/x","message":"network failure"}`, string(raw))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{TypeProgress, TypeResult, TypeError, TypeComplete} {
		require.NoError(t, sampleEvent(typ).Validate(), typ)
	}
	require.Error(t, Event{JobID: "j", TS: time.Now(), Type: "bogus"}.Validate())
	require.Error(t, Event{JobID: "j", TS: time.Now(), Type: TypeResult}.Validate())
	require.Error(t, Event{TS: time.Now(), Type: TypeProgress}.Validate())
	require.True(t, errors.Is(ErrClientDisconnected, crawler.ErrClientDisconnect))
}
