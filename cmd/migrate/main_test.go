package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/team7636/robomania-bot/db"
)

func TestRun_RejectsConflictingFlags(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"--down", "--version"}, "postgres://unused", &out)
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"--sideways"}, "", &out); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestRun_RequiresDSN(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), nil, "", &out); !errors.Is(err, db.ErrNoDSN) {
		t.Fatalf("err = %v, want ErrNoDSN", err)
	}
}

func TestRun_UpThenVersion(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	var out bytes.Buffer
	if err := run(ctx, nil, dsn, &out); err != nil {
		t.Fatalf("up: %v", err)
	}
	out.Reset()
	if err := run(ctx, []string{"--version"}, dsn, &out); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "dirty=false") {
		t.Fatalf("version output = %q", out.String())
	}
}
