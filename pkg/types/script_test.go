package types

import "testing"

func TestNop(t *testing.T) {
	s := Nop()
	if s.Size() != 1 {
		t.Errorf("Nop() size = %d, want 1", s.Size())
	}
	if s.Bytes[0] != byte(OpNop) {
		t.Errorf("Nop() opcode = %x, want %x", s.Bytes[0], OpNop)
	}
}

func TestScript_JSONRoundtrip(t *testing.T) {
	s := Script{Bytes: []byte{byte(OpPushPubKey), 0xaa, 0xbb, byte(OpCheckSigVerify)}}

	data, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var got Script
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if len(got.Bytes) != len(s.Bytes) {
		t.Fatalf("roundtrip length = %d, want %d", len(got.Bytes), len(s.Bytes))
	}
	for i := range s.Bytes {
		if got.Bytes[i] != s.Bytes[i] {
			t.Errorf("roundtrip byte %d = %x, want %x", i, got.Bytes[i], s.Bytes[i])
		}
	}
}

func TestScript_EmptyJSONRoundtrip(t *testing.T) {
	var s Script
	data, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Script
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if len(got.Bytes) != 0 {
		t.Errorf("empty script roundtrip should have zero length, got %d", len(got.Bytes))
	}
}

func TestCovenant_JSONRoundtrip(t *testing.T) {
	c := Covenant{Tokens: [][]byte{{0x01, 0x02}, {0x03}}}

	data, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var got Covenant
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.TokenCount() != c.TokenCount() {
		t.Fatalf("roundtrip token count = %d, want %d", got.TokenCount(), c.TokenCount())
	}
}

func TestOutputType_String(t *testing.T) {
	tests := []struct {
		t    OutputType
		want string
	}{
		{OutputStandard, "Standard"},
		{OutputCoinbase, "Coinbase"},
		{OutputBurn, "Burn"},
		{OutputValidatorNodeReg, "ValidatorNodeRegistration"},
		{OutputCodeTemplateReg, "CodeTemplateRegistration"},
		{OutputType(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("OutputType(%d).String() = %s, want %s", tt.t, got, tt.want)
		}
	}
}

func TestOutputFeatures_IsCoinbase(t *testing.T) {
	f := OutputFeatures{OutputType: OutputCoinbase}
	if !f.IsCoinbase() {
		t.Error("coinbase output features should report IsCoinbase")
	}
	f2 := OutputFeatures{OutputType: OutputStandard}
	if f2.IsCoinbase() {
		t.Error("standard output features should not report IsCoinbase")
	}
}

func TestKernelFeatures_IsCoinbase(t *testing.T) {
	f := KernelDefault | KernelCoinbase
	if !f.IsCoinbase() {
		t.Error("kernel with coinbase flag should report IsCoinbase")
	}
	if (KernelBurn).IsCoinbase() {
		t.Error("burn-only kernel should not report IsCoinbase")
	}
}

func TestPowAlgorithm_String(t *testing.T) {
	if PowAlgoRandomX.String() != "RandomX" {
		t.Errorf("PowAlgoRandomX.String() = %s", PowAlgoRandomX.String())
	}
	if PowAlgoSha3x.String() != "Sha3x" {
		t.Errorf("PowAlgoSha3x.String() = %s", PowAlgoSha3x.String())
	}
	if PowAlgorithm(7).String() != "Unknown" {
		t.Errorf("unknown algo String() = %s", PowAlgorithm(7).String())
	}
}

func TestProofOfWork_JSONRoundtrip(t *testing.T) {
	p := ProofOfWork{Algo: PowAlgoSha3x, Data: []byte{0xde, 0xad, 0xbe, 0xef}}

	data, err := p.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var got ProofOfWork
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Algo != p.Algo {
		t.Errorf("roundtrip algo = %v, want %v", got.Algo, p.Algo)
	}
	if len(got.Data) != len(p.Data) {
		t.Fatalf("roundtrip data length = %d, want %d", len(got.Data), len(p.Data))
	}
}

func TestProofOfWork_Bytes(t *testing.T) {
	p := ProofOfWork{Algo: PowAlgoRandomX, Data: []byte{0x01, 0x02, 0x03}}
	b := p.Bytes()
	if b[0] != byte(PowAlgoRandomX) {
		t.Errorf("Bytes()[0] = %x, want algo tag %x", b[0], PowAlgoRandomX)
	}
	if b[1] != 3 {
		t.Errorf("Bytes()[1] (varint length) = %d, want 3", b[1])
	}
}
