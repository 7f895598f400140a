package variant

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRoundTripBinary(t *testing.T) {
	v := Variants{
		Int32(-7),
		Int64(1 << 40),
		Float64(3.5),
		String("hello"),
		Bytes([]byte{0x00, 0x01, 0xff}),
	}

	b, err := v.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got Variants
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}

	if !reflect.DeepEqual(v, got) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, v)
	}
}

func TestRoundTripJSON(t *testing.T) {
	v := Variants{Int32(1), String("x"), Bytes(nil)}

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}

	var got Variants
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}

	if !reflect.DeepEqual(v, got) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, v)
	}
}

func TestEmptyVariantsRoundTrip(t *testing.T) {
	var v Variants

	b, err := v.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got Variants
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}

	if got.Len() != 0 {
		t.Fatalf("expected empty, got %d elements", got.Len())
	}
}

func TestKindString(t *testing.T) {
	if KindInt32.String() != "int32" {
		t.Fatalf("unexpected Kind.String(): %s", KindInt32.String())
	}
}
