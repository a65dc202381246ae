package natsbus

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	natsjwt "github.com/nats-io/jwt/v2"
	"github.com/nats-io/nkeys"
)

func writeCreds(t *testing.T, expires time.Time) string {
	t.Helper()
	account, err := nkeys.CreateAccount()
	if err != nil {
		t.Fatal(err)
	}
	user, err := nkeys.CreateUser()
	if err != nil {
		t.Fatal(err)
	}
	userPub, err := user.PublicKey()
	if err != nil {
		t.Fatal(err)
	}

	claims := natsjwt.NewUserClaims(userPub)
	claims.Name = "fleetwatch-test"
	if !expires.IsZero() {
		claims.Expires = expires.Unix()
	}
	token, err := claims.Encode(account)
	if err != nil {
		t.Fatal(err)
	}
	seed, err := user.Seed()
	if err != nil {
		t.Fatal(err)
	}
	creds, err := natsjwt.FormatUserConfig(token, seed)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "user.creds")
	if err := os.WriteFile(path, creds, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckCredsExpiry(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		if err := checkCredsExpiry(writeCreds(t, time.Now().Add(time.Hour))); err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
	})

	t.Run("no expiry", func(t *testing.T) {
		if err := checkCredsExpiry(writeCreds(t, time.Time{})); err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		err := checkCredsExpiry(writeCreds(t, time.Now().Add(-time.Hour)))
		if err == nil || !strings.Contains(err.Error(), "expired") {
			t.Errorf("Expected expiry error, got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if err := checkCredsExpiry(filepath.Join(t.TempDir(), "nope.creds")); err == nil {
			t.Error("Expected error for a missing creds file")
		}
	})
}

func TestAuthOption(t *testing.T) {
	user, err := nkeys.CreateUser()
	if err != nil {
		t.Fatal(err)
	}
	seed, err := user.Seed()
	if err != nil {
		t.Fatal(err)
	}

	opt, err := NewTransport("", "", string(seed)).authOption()
	if err != nil || opt == nil {
		t.Errorf("Expected nkey option, got %v (err=%v)", opt, err)
	}

	if _, err := NewTransport("", "", "SUAnotaseed").authOption(); err == nil {
		t.Error("Expected error for an invalid seed")
	}

	opt, err = NewTransport("", "", "").authOption()
	if err != nil || opt != nil {
		t.Errorf("Expected no auth option, got %v (err=%v)", opt, err)
	}
}

func TestTopics(t *testing.T) {
	topics := NewTransport("", "", "").Topics("d1")
	if topics.Metric != "fleet.device.d1.metrics" {
		t.Errorf("Unexpected metric subject %s", topics.Metric)
	}
	if topics.Command != "fleet.device.d1.command" {
		t.Errorf("Unexpected command subject %s", topics.Command)
	}
	if NewTransport("", "", "").Codec().Name() != "msgpack" {
		t.Error("Expected msgpack codec")
	}
}

func TestDialCancelledDuringHandshake(t *testing.T) {
	// Accepts TCP connections but never sends INFO.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		var held []net.Conn
		defer func() {
			for _, conn := range held {
				conn.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, conn)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = NewTransport("nats://"+ln.Addr().String(), "", "").Dial(ctx, "")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected Dial to return soon after cancel, took %v", elapsed)
	}
}
