package lookup

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"mailprobe/internal/cache"
)

func TestResolveMXOrdersByPriority(t *testing.T) {
	lookupFn := func(_ context.Context, _ string) ([]*net.MX, error) {
		return []*net.MX{
			{Host: "mx-c.example.com.", Pref: 30},
			{Host: "mx-a.example.com.", Pref: 10},
			{Host: "mx-b.example.com.", Pref: 20},
		}, nil
	}
	r := NewResolverWithLookup(lookupFn, nil, time.Minute)

	records := r.ResolveMX(context.Background(), "Example.com")
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	wantOrder := []string{"mx-a.example.com", "mx-b.example.com", "mx-c.example.com"}
	for i, want := range wantOrder {
		if records[i].Exchange != want {
			t.Errorf("records[%d].Exchange = %q, want %q", i, records[i].Exchange, want)
		}
	}
	if records[0].Priority != 10 {
		t.Errorf("records[0].Priority = %d, want 10", records[0].Priority)
	}
}

func TestResolveMXPreservesTieOrder(t *testing.T) {
	lookupFn := func(_ context.Context, _ string) ([]*net.MX, error) {
		return []*net.MX{
			{Host: "first.example.com.", Pref: 10},
			{Host: "second.example.com.", Pref: 10},
		}, nil
	}
	r := NewResolverWithLookup(lookupFn, nil, time.Minute)

	records := r.ResolveMX(context.Background(), "example.com")
	if len(records) != 2 || records[0].Exchange != "first.example.com" {
		t.Errorf("tied records reordered: %+v", records)
	}
}

func TestResolveMXFailuresYieldEmpty(t *testing.T) {
	tests := []struct {
		name     string
		lookupFn LookupMXFunc
	}{
		{
			name: "dns error",
			lookupFn: func(_ context.Context, _ string) ([]*net.MX, error) {
				return nil, errors.New("no such host")
			},
		},
		{
			name: "no records",
			lookupFn: func(_ context.Context, _ string) ([]*net.MX, error) {
				return nil, nil
			},
		},
		{
			name: "only empty hostnames",
			lookupFn: func(_ context.Context, _ string) ([]*net.MX, error) {
				return []*net.MX{{Host: ".", Pref: 10}}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolverWithLookup(tt.lookupFn, nil, time.Minute)
			if records := r.ResolveMX(context.Background(), "example.com"); len(records) != 0 {
				t.Errorf("got %+v, want empty", records)
			}
		})
	}
}

func TestResolveMXCachesAnswers(t *testing.T) {
	calls := 0
	lookupFn := func(_ context.Context, _ string) ([]*net.MX, error) {
		calls++
		return []*net.MX{{Host: "mx.example.com.", Pref: 10}}, nil
	}
	r := NewResolverWithLookup(lookupFn, cache.New(), time.Minute)

	r.ResolveMX(context.Background(), "example.com")
	// Same domain in a different case must hit the cache.
	records := r.ResolveMX(context.Background(), "EXAMPLE.COM")

	if calls != 1 {
		t.Errorf("lookup called %d times, want 1", calls)
	}
	if len(records) != 1 || records[0].Exchange != "mx.example.com" {
		t.Errorf("cached answer mangled: %+v", records)
	}
}
