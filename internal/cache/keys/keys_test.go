package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"
)

const q = "precip|rectangle(10,0,20,1)|range(2020-01-01T00:00:00Z,2020-01-02T00:00:00Z)||0,false||array"

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	k1 := Result("cpc-precip", q)
	k2 := Result("cpc-precip", q)
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestNormalization_SpacingVariantsProduceSameKey(t *testing.T) {
	k1 := Result(" cpc-precip ", "precip | rectangle( 10 , 0 ,20,1 )")
	k2 := Result("cpc-precip", "precip|rectangle(10,0,20,1)")
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9:_=\-]+$`).MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
}

func TestDifference_DifferentQueriesAreDifferent(t *testing.T) {
	k1 := Result("cpc-precip", "precip|point(1,2,exact=false)")
	k2 := Result("cpc-precip", "precip|point(2,1,exact=false)")
	if k1 == k2 {
		t.Fatalf("different queries must produce different keys")
	}
}

func TestLongQueryIsTruncatedButHashed(t *testing.T) {
	long := "precip|polygon(" + strings.Repeat("10.5 20.25,", 40) + ")"
	k := Result("cpc", long)
	m := regexp.MustCompile(`^res:cpc:q=(.*):f=[0-9a-f]{16}$`).FindStringSubmatch(k)
	if len(m) != 2 || len(m[1]) > 160 {
		t.Fatalf("unexpected key layout: %s", k)
	}
	if Result("cpc", long+"x") == k {
		t.Fatal("hash must cover the full query")
	}
}

func TestUnicodeSafety_NoPanicAndHashSuffixPresent(t *testing.T) {
	k := Result("göteborg", "precip|note='雪'")
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if m := regexp.MustCompile(`:f=([0-9a-f]{16})$`).FindStringSubmatch(k); len(m) != 2 {
		t.Fatalf("missing or invalid :f=<hex64> suffix in key: %s", k)
	}
}

func TestIndexKeys(t *testing.T) {
	if got := Cell("cpc", 3, "831f8dfffffffff"); got != "idx:cpc:3:831f8dfffffffff" {
		t.Fatalf("cell key=%s", got)
	}
	if Dataset("cpc") == Wide("cpc") {
		t.Fatal("dataset and wide sets collide")
	}
}
