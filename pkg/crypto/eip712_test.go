package crypto

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

func testTypedData(nonce string) *apitypes.TypedData {
	return NewTypedData(
		Domain{Name: "Test", Version: "1", ChainID: big.NewInt(1337)},
		"Ping",
		[]apitypes.Type{
			{Name: "label", Type: "string"},
			{Name: "target", Type: "address"},
			{Name: "id", Type: "bytes32"},
			{Name: "nonce", Type: "uint64"},
		},
		apitypes.TypedDataMessage{
			"label":  "hello",
			"target": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
			"id":     "0x" + "11223344556677889900aabbccddeeff11223344556677889900aabbccddeeff",
			"nonce":  nonce,
		},
	)
}

func TestHashTypedDataDeterministic(t *testing.T) {
	h1, err := HashTypedData(testTypedData("1"))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := HashTypedData(testTypedData("1"))
	if string(h1) != string(h2) {
		t.Error("same typed data produced different digests")
	}
	if len(h1) != 32 {
		t.Errorf("digest length = %d", len(h1))
	}

	h3, _ := HashTypedData(testTypedData("2"))
	if string(h1) == string(h3) {
		t.Error("different nonce produced the same digest")
	}
}

func TestHashTypedDataMatchesGoEthereum(t *testing.T) {
	td := testTypedData("42")
	ours, err := HashTypedData(td)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	theirs, _, err := apitypes.TypedDataAndHash(*td)
	if err != nil {
		t.Fatalf("reference hash: %v", err)
	}
	if string(ours) != string(theirs) {
		t.Errorf("digest mismatch: %x vs %x", ours, theirs)
	}
}

func TestSignAndRecoverTypedData(t *testing.T) {
	signer, _ := GenerateKey()
	td := testTypedData("7")

	sig, err := SignTypedData(signer, td)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	recovered, err := RecoverTypedSigner(td, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	tampered := testTypedData("8")
	other, _ := RecoverTypedSigner(tampered, sig)
	if other == signer.Address() {
		t.Error("tampered message recovered the original signer")
	}
}

func TestTypedDataJSON(t *testing.T) {
	out, err := TypedDataJSON(testTypedData("1"))
	if err != nil {
		t.Fatalf("json: %v", err)
	}

	var decoded struct {
		PrimaryType string                     `json:"primaryType"`
		Types       map[string]json.RawMessage `json:"types"`
		Domain      map[string]any             `json:"domain"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.PrimaryType != "Ping" {
		t.Errorf("primaryType = %s", decoded.PrimaryType)
	}
	if _, ok := decoded.Types["EIP712Domain"]; !ok {
		t.Error("missing EIP712Domain type")
	}
	if decoded.Domain["verifyingContract"] != (common.Address{}).Hex() {
		t.Errorf("verifyingContract = %v", decoded.Domain["verifyingContract"])
	}
}
