package keys

import (
	"strings"
	"testing"
)

func TestSingle(t *testing.T) {
	long := strings.Repeat("x", MaxLen)
	cases := []struct {
		name   string
		ns     string
		key    string
		hashed bool
	}{
		{"plain", "users", "42", false},
		{"space", "users", "a b", true},
		{"control", "users", "a\nb", true},
		{"non_ascii", "users", "zażółć", true},
		{"too_long", "users", long, true},
		{"hash_marker", "users", "#abc", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Single(tc.ns, tc.key)
			if !strings.HasPrefix(got, "nemo:"+tc.ns+":") {
				t.Fatalf("missing namespace prefix: %q", got)
			}
			if hashed := strings.HasPrefix(got, "nemo:"+tc.ns+":#"); hashed != tc.hashed {
				t.Fatalf("hashed=%v want %v (%q)", hashed, tc.hashed, got)
			}
			if len(got) > MaxLen {
				t.Fatalf("key too long: %d", len(got))
			}
			if Single(tc.ns, tc.key) != got {
				t.Fatalf("not deterministic")
			}
		})
	}
	forged := "#" + strings.TrimPrefix(Single("users", long), "nemo:users:#")
	if Single("users", forged) == Single("users", long) {
		t.Fatalf("a readable key must not alias a hashed one")
	}
	if Single("a", "k") == Single("b", "k") {
		t.Fatalf("namespaces must not collide")
	}
}

func TestPrefixes(t *testing.T) {
	k := Single("ns", "k")
	if Lock(k) != "STALE::nemo:ns:k" {
		t.Fatalf("lock key: %q", Lock(k))
	}
	if Revision(k) != "REVISION::nemo:ns:k" {
		t.Fatalf("revision key: %q", Revision(k))
	}
}

func TestBatchCollapsesDuplicates(t *testing.T) {
	storage, orig := Batch("ns", []string{"a", "b", "a"})
	if len(storage) != 2 || storage[0] != "nemo:ns:a" || storage[1] != "nemo:ns:b" {
		t.Fatalf("storage keys: %v", storage)
	}
	if orig["nemo:ns:b"] != "b" {
		t.Fatalf("reverse map: %v", orig)
	}
}
