package language

import "testing"

type fixedDetector struct {
	code string
	ok   bool
}

func (f fixedDetector) Detect(string) (string, bool) { return f.code, f.ok }

func TestWhatlangDetector_scripts(t *testing.T) {
	d := NewWhatlangDetector(DefaultSupported)
	tests := []struct {
		text string
		want string
	}{
		{"ನಮ್ಮ ಬಡಾವಣೆಯಲ್ಲಿ ಕಳೆದ ಮೂರು ದಿನಗಳಿಂದ ಕುಡಿಯುವ ನೀರಿನ ಸರಬರಾಜು ಇಲ್ಲ", "kn"},
		{"எங்கள் தெருவில் மூன்று நாட்களாக குடிநீர் விநியோகம் இல்லை", "ta"},
		{"There has been no drinking water supply in our street for the last three days", "en"},
	}
	for _, tt := range tests {
		got, ok := d.Detect(tt.text)
		if !ok || got != tt.want {
			t.Errorf("Detect(%q) = (%q, %v), want %q", tt.text, got, ok, tt.want)
		}
	}
}

func TestWhatlangDetector_empty(t *testing.T) {
	d := NewWhatlangDetector(nil)
	if _, ok := d.Detect("   "); ok {
		t.Error("empty text should not be detected")
	}
}

func TestSupported_Resolve(t *testing.T) {
	s := NewSupported([]string{"en", "HI", " kn "})
	tests := []struct {
		code string
		ok   bool
		want string
	}{
		{"hi", true, "hi"},
		{"kn", true, "kn"},
		{"fr", true, "en"},
		{"hi", false, "en"},
		{"", true, "en"},
	}
	for _, tt := range tests {
		if got := s.Resolve(tt.code, tt.ok, "en"); got != tt.want {
			t.Errorf("Resolve(%q, %v) = %q, want %q", tt.code, tt.ok, got, tt.want)
		}
	}
}

func TestDetectOrDefault(t *testing.T) {
	s := NewSupported(DefaultSupported)
	if got := DetectOrDefault(nil, s, "en", "anything"); got != "en" {
		t.Errorf("nil detector: %q", got)
	}
	if got := DetectOrDefault(fixedDetector{"ta", true}, s, "en", "x"); got != "ta" {
		t.Errorf("supported: %q", got)
	}
	if got := DetectOrDefault(fixedDetector{"de", true}, s, "en", "x"); got != "en" {
		t.Errorf("unsupported: %q", got)
	}
	if got := DetectOrDefault(fixedDetector{"", false}, s, "en", "x"); got != "en" {
		t.Errorf("failed detection: %q", got)
	}
}
