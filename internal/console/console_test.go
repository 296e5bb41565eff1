package console

import (
	"bytes"
	"strings"
	"testing"
)

func TestColorModes(t *testing.T) {
	t.Parallel()

	var plain bytes.Buffer
	c := New(&plain, ColorNever)
	c.Println(c.Error("Connection Failed"))
	if strings.Contains(plain.String(), "\x1b[") {
		t.Fatalf("never mode emitted escapes: %q", plain.String())
	}
	if plain.String() != "Connection Failed\n" {
		t.Fatalf("got %q", plain.String())
	}

	var colored bytes.Buffer
	c = New(&colored, ColorAlways)
	c.Println(c.Success("Connection Succeeded"))
	if !strings.Contains(colored.String(), "\x1b[") {
		t.Fatalf("always mode emitted no escapes: %q", colored.String())
	}
}

func TestAutoModeOnBuffer(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := New(&buf, ColorAuto)
	c.Printf("%s %d", c.Bold("hosts"), 3)
	if buf.String() != "hosts 3\n" {
		t.Fatalf("auto mode on a non-terminal should be plain, got %q", buf.String())
	}
}

func TestWidthIgnoresEscapes(t *testing.T) {
	t.Parallel()

	c := New(&bytes.Buffer{}, ColorAlways)
	styled := c.Error("abc")
	if Width(styled) != 3 {
		t.Fatalf("Width(%q) = %d", styled, Width(styled))
	}
}
