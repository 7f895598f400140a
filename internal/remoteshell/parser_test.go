package remoteshell

import (
	"reflect"
	"testing"
)

func TestParseCommandSimple(t *testing.T) {
	verb, args := ParseCommand("fs foo.txt bar.txt")
	if verb != "fs" {
		t.Fatalf("expected verb fs, got %q", verb)
	}
	if !reflect.DeepEqual(args, []string{"foo.txt", "bar.txt"}) {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestParseCommandQuotedSpaces(t *testing.T) {
	verb, args := ParseCommand(`l echo "hello world"`)
	if verb != "l" {
		t.Fatalf("expected verb l, got %q", verb)
	}
	if !reflect.DeepEqual(args, []string{"echo", "hello world"}) {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestParseCommandBackslashEscape(t *testing.T) {
	verb, args := ParseCommand(`fs foo\ bar.txt`)
	if verb != "fs" {
		t.Fatalf("expected verb fs, got %q", verb)
	}
	if !reflect.DeepEqual(args, []string{"foo bar.txt"}) {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestParseCommandEmptyLine(t *testing.T) {
	verb, args := ParseCommand("   ")
	if verb != "" || args != nil {
		t.Fatalf("expected empty parse, got verb=%q args=%#v", verb, args)
	}
}
