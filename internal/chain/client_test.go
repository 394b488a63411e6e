package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/actor"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
)

func TestResponseErr(t *testing.T) {
	var nilResp *Response
	if nilResp.Err() != nil {
		t.Fatalf("nil response should carry no error")
	}
	resp := &Response{Error: &ResponseError{State: "FAULT", Message: "ASSERT failed"}}
	if got := resp.Err(); got == nil || got.Error() != "vm FAULT: ASSERT failed" {
		t.Fatalf("unexpected fault error: %v", got)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without RPC URL")
	}
}

func TestWithContextReturnsResult(t *testing.T) {
	want := errors.New("rpc failed")
	if err := withContext(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestWithContextAbandonsSlowCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	err := withContext(ctx, func() error {
		<-release
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWithContextSkipsDoneContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := withContext(ctx, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected canceled without calling fn, got %v (called=%v)", err, called)
	}
}

func newKeySigner(t *testing.T) Signer {
	t.Helper()
	priv, err := keys.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return Signer{Address: priv.Address(), PrivateKey: hex.EncodeToString(priv.Bytes())}
}

func newActorCountingClient(created *int) *Client {
	return &Client{
		newActor: func(acc *wallet.Account) (*actor.Actor, error) {
			*created++
			return &actor.Actor{}, nil
		},
		actors: make(map[string]cachedActor),
	}
}

func TestActorForReusesActorPerKey(t *testing.T) {
	created := 0
	c := newActorCountingClient(&created)
	signer := newKeySigner(t)

	first, err := c.actorFor(context.Background(), signer)
	if err != nil {
		t.Fatalf("actorFor: %v", err)
	}
	second, err := c.actorFor(context.Background(), signer)
	if err != nil {
		t.Fatalf("actorFor: %v", err)
	}
	if first != second || created != 1 {
		t.Fatalf("expected one cached actor, created %d", created)
	}
}

func TestActorForRebuildsAfterKeyChange(t *testing.T) {
	created := 0
	c := newActorCountingClient(&created)
	signer := newKeySigner(t)
	if _, err := c.actorFor(context.Background(), signer); err != nil {
		t.Fatalf("actorFor: %v", err)
	}

	// same address, different key material: the cached actor must not be used
	rotated := signer
	rotated.PrivateKey = newKeySigner(t).PrivateKey
	if _, err := c.actorFor(context.Background(), rotated); err == nil {
		t.Fatalf("expected key/address mismatch after rotation")
	}
	if _, ok := c.actors[signer.Address]; ok {
		t.Fatalf("stale actor still cached for %s", signer.Address)
	}

	// the original key pair builds a fresh actor
	if _, err := c.actorFor(context.Background(), signer); err != nil {
		t.Fatalf("actorFor: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected a rebuilt actor, created %d", created)
	}
}
