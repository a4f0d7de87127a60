package cache

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	a, err := Fingerprint("transcribe", []byte(`{"source":"a.mp4","lang":"de"}`), nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, err := Fingerprint("transcribe", []byte(`{"lang":"de","source":"a.mp4"}`), nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if a != b {
		t.Fatalf("key order changed the fingerprint: %s vs %s", a, b)
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	t.Parallel()

	base := `{"source":"a.mp4","lang":"de","size":"720p","template":"summary"}`
	baseFP, err := Fingerprint("transform", []byte(base), nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	// Every output-affecting parameter must change the fingerprint.
	tests := []struct {
		name   string
		kind   string
		params string
	}{
		{"different source", "transform", `{"source":"b.mp4","lang":"de","size":"720p","template":"summary"}`},
		{"different language", "transform", `{"source":"a.mp4","lang":"en","size":"720p","template":"summary"}`},
		{"different size", "transform", `{"source":"a.mp4","lang":"de","size":"1080p","template":"summary"}`},
		{"different template", "transform", `{"source":"a.mp4","lang":"de","size":"720p","template":"full"}`},
		{"different kind", "transcribe", base},
		{"extra parameter", "transform", `{"source":"a.mp4","lang":"de","size":"720p","template":"summary","format":"srt"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, err := Fingerprint(tt.kind, []byte(tt.params), nil)
			if err != nil {
				t.Fatalf("Fingerprint: %v", err)
			}
			if fp == baseFP {
				t.Fatalf("fingerprint collision for %s", tt.name)
			}
		})
	}
}

func TestFingerprintIgnoredParams(t *testing.T) {
	t.Parallel()

	ignore := []string{"use_cache", "trace_id"}

	a, err := Fingerprint("ocr", []byte(`{"source":"scan.pdf","use_cache":true,"trace_id":"t1"}`), ignore)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, err := Fingerprint("ocr", []byte(`{"source":"scan.pdf","use_cache":false,"trace_id":"t2"}`), ignore)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if a != b {
		t.Fatal("ignored parameters changed the fingerprint")
	}

	c, err := Fingerprint("ocr", []byte(`{"source":"other.pdf","use_cache":true,"trace_id":"t1"}`), ignore)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if a == c {
		t.Fatal("source change must change the fingerprint even with an ignore list")
	}
}

func TestFingerprintNestedAndArrays(t *testing.T) {
	t.Parallel()

	a, err := Fingerprint("extract", []byte(`{"opts":{"b":2,"a":1},"frames":[1,2,3]}`), nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, err := Fingerprint("extract", []byte(`{"frames":[1,2,3],"opts":{"a":1,"b":2}}`), nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if a != b {
		t.Fatal("nested key order changed the fingerprint")
	}

	// Array order is significant.
	c, err := Fingerprint("extract", []byte(`{"opts":{"a":1,"b":2},"frames":[3,2,1]}`), nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if a == c {
		t.Fatal("array order must be significant")
	}
}

func TestFingerprintEmptyParams(t *testing.T) {
	t.Parallel()

	a, err := Fingerprint("noop", nil, nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, err := Fingerprint("noop", []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if a != b {
		t.Fatal("nil and empty-object params must fingerprint identically")
	}
}

func TestFingerprintRejectsNonObject(t *testing.T) {
	t.Parallel()

	if _, err := Fingerprint("noop", []byte(`[1,2,3]`), nil); err == nil {
		t.Fatal("expected error for non-object params")
	}
}
