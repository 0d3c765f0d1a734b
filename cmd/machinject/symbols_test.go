package main

import (
	"testing"

	"gitlab.com/stephen-fox/machinject/payload"
)

func TestParseSymbols(t *testing.T) {
	table, err := parseSymbols([]string{
		"dlopen=0x7ff80001a2b0",
		"thread_suspend=7ff8000c1d40",
	})
	if err != nil {
		t.Fatal(err)
	}

	addr, err := table.Resolve(payload.DlopenSymbol)
	if err != nil {
		t.Fatal(err)
	}

	if addr != 0x7ff80001a2b0 {
		t.Fatalf("expected 0x7ff80001a2b0 - got 0x%x", addr)
	}

	addr, err = table.Resolve(payload.ThreadSuspendSymbol)
	if err != nil {
		t.Fatal(err)
	}

	if addr != 0x7ff8000c1d40 {
		t.Fatalf("expected 0x7ff8000c1d40 - got 0x%x", addr)
	}
}

func TestParseSymbols_Invalid(t *testing.T) {
	bad := []string{
		"dlopen",
		"=0x1000",
		"dlopen=",
		"printf=0x1000",
		"dlopen=0xzz",
		"dlopen=0x112233445566778899",
	}

	for _, arg := range bad {
		_, err := parseSymbols([]string{arg})
		if err == nil {
			t.Fatalf("expected an error for %q", arg)
		}
	}
}
