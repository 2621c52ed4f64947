package joncanon

import (
	"encoding/json"
	"testing"
)

func TestCanonicalEncoding(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want string
	}{
		{"simple_map", map[string]interface{}{"b": 2, "a": 1}, `{"a":1,"b":2}`},
		{
			"nested_map",
			map[string]interface{}{
				"z": map[string]interface{}{"y": 1, "x": 2},
				"a": 1,
			},
			`{"a":1,"z":{"x":2,"y":1}}`,
		},
		{"array", []interface{}{3, 1, 2}, `[3,1,2]`},
		{
			"mixed_types",
			map[string]interface{}{
				"n": nil,
				"s": "hello",
				"b": true,
				"i": 42,
				"a": []interface{}{1, "two", false},
			},
			`{"a":[1,"two",false],"b":true,"i":42,"n":null,"s":"hello"}`,
		},
		{"empty_map", map[string]interface{}{}, `{}`},
		{"empty_array", []interface{}{}, `[]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Marshal(tc.in)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("Marshal(%s) = %s, want %s", tc.name, got, tc.want)
			}

			// Re-encoding canonical output must be a no-op.
			again, err := CanonicalBytes(got)
			if err != nil {
				t.Fatalf("CanonicalBytes on own output failed: %v", err)
			}
			if string(again) != string(got) {
				t.Errorf("re-encoding canonical output changed it: %s -> %s", got, again)
			}
		})
	}
}

func TestIsCanonical(t *testing.T) {
	cases := []struct {
		name string
		data string
		want bool
	}{
		{"sorted_keys", `{"a":1,"b":2}`, true},
		{"unsorted_keys", `{"b":2,"a":1}`, false},
		{"extra_whitespace", `{"a": 1, "b": 2}`, false},
		{"array_order_preserved", `[3,1,2]`, true},
		{"empty_object", `{}`, true},
		{"empty_array", `[]`, true},
		{"nested_unsorted", `{"a":{"y":1,"x":2}}`, false},
		{"nested_sorted", `{"a":{"x":2,"y":1}}`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsCanonical([]byte(tc.data)); got != tc.want {
				t.Errorf("IsCanonical(%s) = %v, want %v", tc.data, got, tc.want)
			}
		})
	}
}

func TestEncodeForSigning(t *testing.T) {
	type envelope struct {
		MsgID     string `json:"msg_id"`
		SenderID  string `json:"sender_id"`
		Signature string `json:"signature"`
	}

	e := envelope{MsgID: "abc", SenderID: "node1", Signature: "should-be-dropped"}

	got, err := EncodeForSigning(e, "signature")
	if err != nil {
		t.Fatalf("EncodeForSigning failed: %v", err)
	}

	want := `{"msg_id":"abc","sender_id":"node1"}`
	if string(got) != want {
		t.Errorf("EncodeForSigning = %s, want %s", got, want)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(got, &m); err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if _, present := m["signature"]; present {
		t.Errorf("excluded field %q still present in output", "signature")
	}
}

func TestEncodeForSigningDeterministic(t *testing.T) {
	type a struct {
		Z string `json:"z"`
		A string `json:"a"`
		M string `json:"m"`
	}

	v := a{Z: "1", A: "2", M: "3"}

	first, err := EncodeForSigning(v)
	if err != nil {
		t.Fatalf("EncodeForSigning failed: %v", err)
	}
	second, err := EncodeForSigning(v)
	if err != nil {
		t.Fatalf("EncodeForSigning failed: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("two encodes of the same value diverged: %s vs %s", first, second)
	}
	if string(first) != `{"a":"2","m":"3","z":"1"}` {
		t.Errorf("unexpected canonical order: %s", first)
	}
}

func TestMarshalToBytesRoundTrip(t *testing.T) {
	in := map[string]interface{}{"x": 1.0, "y": "hi"}
	out := MarshalToBytes(in)

	var back map[string]interface{}
	if err := Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back["y"] != "hi" {
		t.Errorf("round trip lost field: %+v", back)
	}
}

func TestUnicodeNotEscaped(t *testing.T) {
	got, err := Marshal(map[string]interface{}{"nick": "héllo/world"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"nick":"héllo/world"}`
	if string(got) != want {
		t.Errorf("Marshal = %s, want %s", got, want)
	}
}

func TestStringsNFCNormalized(t *testing.T) {
	decomposed := "é" // "e" followed by a combining acute accent
	got, err := Marshal(map[string]interface{}{"nick": decomposed})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"nick":"é"}` // precomposed NFC form
	if string(got) != want {
		t.Errorf("Marshal = %s, want %s (decomposed input must normalize to NFC)", got, want)
	}
}
