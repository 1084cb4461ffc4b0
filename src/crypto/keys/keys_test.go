package keys

import (
	"encoding/hex"
	"io/ioutil"
	"os"
	"path"
	"reflect"
	"strings"
	"testing"

	mcrypto "github.com/mosaicnetworks/memorychain/src/crypto"
)

func TestSimpleKeyfile(t *testing.T) {
	dir, err := ioutil.TempDir("", "memorychain-keys")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	simpleKeyfile := NewSimpleKeyfile(path.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	key, _ = GenerateECDSAKey()

	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(DumpPrivateKey(nKey), DumpPrivateKey(key)) {
		t.Fatalf("Keys do not match")
	}
}

func TestReadOrGenerate(t *testing.T) {
	dir, err := ioutil.TempDir("", "memorychain-keys")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	kf := NewSimpleKeyfile(path.Join(dir, "sub", "priv_key"))

	first, created, err := kf.ReadOrGenerate()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !created {
		t.Fatalf("first call should create a key")
	}

	second, created, err := kf.ReadOrGenerate()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if created {
		t.Fatalf("second call should read the existing key")
	}

	if PrivateKeyHex(first) != PrivateKeyHex(second) {
		t.Fatalf("keys differ")
	}
}

func TestFilePermissions(t *testing.T) {
	dir, err := ioutil.TempDir("", "memorychain-keys")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	key, _ := GenerateECDSAKey()
	rawKey := hex.EncodeToString(DumpPrivateKey(key))

	shouldErr := []os.FileMode{0777, 0766, 0744, 0666, 0644}

	for i, fm := range shouldErr {
		p := path.Join(dir, "bad_"+string(rune('a'+i)))
		if err := ioutil.WriteFile(p, []byte(rawKey), fm); err != nil {
			t.Fatal(err)
		}
		// WriteFile is subject to umask
		if err := os.Chmod(p, fm); err != nil {
			t.Fatal(err)
		}

		if _, err := NewSimpleKeyfile(p).ReadKey(); err == nil {
			t.Fatalf("%o || keyfile should return permissions error", fm)
		}
	}

	goodKeyPath := path.Join(dir, "priv_key_good")
	if err := ioutil.WriteFile(goodKeyPath, []byte(rawKey), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewSimpleKeyfile(goodKeyPath).ReadKey(); err != nil {
		t.Fatalf("keyfile should not return error. Got %v", err)
	}
}

func TestSignatureEncoding(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	msgHashBytes := mcrypto.SHA256([]byte("J'aime mieux forger mon ame que la meubler"))

	r, s, _ := Sign(privKey, msgHashBytes)

	encodedSig := EncodeSignature(r, s)

	dr, ds, err := DecodeSignature(encodedSig)
	if err != nil {
		t.Fatal(err)
	}

	if r.Cmp(dr) != 0 {
		t.Fatalf("Signature Rs differ")
	}

	if s.Cmp(ds) != 0 {
		t.Fatalf("Signature Ss differ")
	}

	if _, _, err := DecodeSignature("abc"); err == nil {
		t.Fatalf("DecodeSignature should fail on malformed input")
	}
}

func TestSignMessage(t *testing.T) {
	privKey, _ := GenerateECDSAKey()
	pubHex := PublicKeyHex(&privKey.PublicKey)

	msg := []byte("vote|p1|approve")

	sig, err := SignMessage(privKey, msg)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := VerifyMessage(pubHex, msg, sig)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("signature should verify")
	}

	ok, err = VerifyMessage(pubHex, []byte("vote|p1|reject"), sig)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("signature should not verify a different message")
	}
}

func TestPublicKeyID(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	id := PublicKeyID(&privKey.PublicKey)
	if !strings.HasPrefix(id, "N") || len(id) != 9 {
		t.Fatalf("unexpected id format %s", id)
	}

	pub, err := ParsePublicKeyHex(PublicKeyHex(&privKey.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	if PublicKeyID(pub) != id {
		t.Fatalf("id should be stable across encodings")
	}
}
