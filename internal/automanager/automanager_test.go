package automanager

import (
	"context"
	"errors"
	"testing"
)

type fakeRunner struct {
	calls [][]string
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	return nil, f.err
}

func TestClaimIssuesUnmanageOnce(t *testing.T) {
	rpc := &fakeRunner{}
	c := New(rpc)

	if err := c.Claim(context.Background(), "chan-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Claim(context.Background(), "chan-1"); err != nil {
		t.Fatalf("unexpected error on repeat claim: %v", err)
	}

	if len(rpc.calls) != 1 {
		t.Fatalf("expected exactly one unmanage call, got %d: %v", len(rpc.calls), rpc.calls)
	}
	if rpc.calls[0][0] != "clboss-unmanage" || rpc.calls[0][1] != "chan-1" {
		t.Errorf("unexpected unmanage call args: %v", rpc.calls[0])
	}
}

func TestReleaseGivesBackOwnedChannel(t *testing.T) {
	rpc := &fakeRunner{}
	c := New(rpc)
	c.Claim(context.Background(), "chan-1")

	if err := c.Release(context.Background(), "chan-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rpc.calls) != 2 || rpc.calls[1][0] != "clboss-remanage" {
		t.Errorf("expected a remanage call after claim, got %v", rpc.calls)
	}
}

func TestReleaseNoOpWhenNotOwned(t *testing.T) {
	rpc := &fakeRunner{}
	c := New(rpc)

	if err := c.Release(context.Background(), "chan-never-claimed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rpc.calls) != 0 {
		t.Errorf("expected no RPC call for an unowned channel release, got %v", rpc.calls)
	}
}

func TestClaimPropagatesRPCError(t *testing.T) {
	rpc := &fakeRunner{err: errors.New("clboss not running")}
	c := New(rpc)

	if err := c.Claim(context.Background(), "chan-1"); err == nil {
		t.Fatal("expected claim to propagate the RPC error")
	}
}

func TestClaimAfterFailureStaysUnowned(t *testing.T) {
	rpc := &fakeRunner{err: errors.New("clboss not running")}
	c := New(rpc)
	c.Claim(context.Background(), "chan-1")

	rpc.err = nil
	if err := c.Claim(context.Background(), "chan-1"); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if len(rpc.calls) != 2 {
		t.Errorf("expected a retry RPC call after the earlier failure, got %d", len(rpc.calls))
	}
}
