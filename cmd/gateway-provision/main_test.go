package main

import "testing"

func TestResolveSecret(t *testing.T) {
	t.Setenv(secretEnv, "")

	if _, err := resolveSecret("", false); err == nil {
		t.Fatal("expected error when no secret is given")
	}
	if got, err := resolveSecret("  s3cret ", false); err != nil || got != "s3cret" {
		t.Fatalf("resolveSecret = %q, %v", got, err)
	}

	t.Setenv(secretEnv, "from-env")
	if got, err := resolveSecret("", false); err != nil || got != "from-env" {
		t.Fatalf("resolveSecret env = %q, %v", got, err)
	}

	if _, err := resolveSecret("x", true); err == nil {
		t.Fatal("expected error combining -secret and -generate")
	}
	generated, err := resolveSecret("", true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(generated) != 64 {
		t.Fatalf("generated secret length = %d, want 64", len(generated))
	}
	other, _ := resolveSecret("", true)
	if other == generated {
		t.Fatal("generated secrets must differ")
	}
}
