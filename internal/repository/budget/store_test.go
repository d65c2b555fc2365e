package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/bmae/internal/db"
)

type expireCall struct {
	key string
	ttl time.Duration
	nx  bool
}

type fakeKV struct {
	data      map[string][]byte
	incrErr   error
	expires   []expireCall
	getErr    error
	increment map[string]int64
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string][]byte{}, increment: map[string]int64{}}
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeKV) IncrBy(_ context.Context, key string, val int64) error {
	if f.incrErr != nil {
		return f.incrErr
	}
	f.increment[key] += val
	return nil
}

func (f *fakeKV) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	f.expires = append(f.expires, expireCall{key: key, ttl: ttl, nx: nx})
	return nil
}

func TestStore_IncrBy(t *testing.T) {
	kv := newFakeKV()
	s := New(kv)

	if err := s.IncrBy(context.Background(), "bmae:budget:openai:daily:2026-05-02", 42, 48*time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kv.increment["bmae:budget:openai:daily:2026-05-02"] != 42 {
		t.Fatalf("unexpected increments: %v", kv.increment)
	}
	if len(kv.expires) != 1 || kv.expires[0].ttl != 48*time.Hour || !kv.expires[0].nx {
		t.Fatalf("expected one NX expire, got %+v", kv.expires)
	}
}

func TestStore_IncrBy_NoTTL(t *testing.T) {
	kv := newFakeKV()
	if err := New(kv).IncrBy(context.Background(), "k", 1, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kv.expires) != 0 {
		t.Fatalf("expected no expire, got %+v", kv.expires)
	}
}

func TestStore_IncrBy_Error(t *testing.T) {
	kv := newFakeKV()
	kv.incrErr = errors.New("conn reset")
	err := New(kv).IncrBy(context.Background(), "k", 1, time.Hour)
	if !errors.Is(err, kv.incrErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if len(kv.expires) != 0 {
		t.Fatal("expire must not run after a failed increment")
	}
}

func TestStore_Get(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string][]byte
		getErr  error
		want    int64
		wantErr bool
	}{
		{name: "present", data: map[string][]byte{"k": []byte("1500")}, want: 1500},
		{name: "missing", data: map[string][]byte{}, want: 0},
		{name: "garbage", data: map[string][]byte{"k": []byte("abc")}, wantErr: true},
		{name: "store error", getErr: errors.New("timeout"), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kv := newFakeKV()
			kv.data = tc.data
			kv.getErr = tc.getErr
			got, err := New(kv).Get(context.Background(), "k")
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}
