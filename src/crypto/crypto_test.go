package crypto

import (
	"encoding/hex"
	"testing"
)

func TestSHA256(t *testing.T) {
	cases := map[string]string{
		"":    "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		"abc": "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
	}

	for in, expected := range cases {
		if h := hex.EncodeToString(SHA256([]byte(in))); h != expected {
			t.Fatalf("SHA256(%q) should be %s, not %s", in, expected, h)
		}
	}
}
