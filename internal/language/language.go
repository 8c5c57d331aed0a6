// Package language detects the language of grievance text.
package language

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Detector reports the ISO 639-1 code of text. ok is false when detection failed or was not confident.
type Detector interface {
	Detect(text string) (code string, ok bool)
}

// DefaultSupported lists the languages replies can be rendered in.
var DefaultSupported = []string{"en", "hi", "kn", "ta", "te", "mr", "bn"}

var isoCodes = map[whatlanggo.Lang]string{
	whatlanggo.Eng: "en",
	whatlanggo.Hin: "hi",
	whatlanggo.Kan: "kn",
	whatlanggo.Tam: "ta",
	whatlanggo.Tel: "te",
	whatlanggo.Mar: "mr",
	whatlanggo.Ben: "bn",
	whatlanggo.Urd: "ur",
	whatlanggo.Guj: "gu",
	whatlanggo.Mal: "ml",
	whatlanggo.Pan: "pa",
}

// WhatlangDetector detects languages with whatlanggo's trigram model.
type WhatlangDetector struct {
	options whatlanggo.Options
}

// NewWhatlangDetector creates a detector restricted to the given ISO 639-1 codes.
// An empty list allows every language the detector knows a code for.
func NewWhatlangDetector(allowed []string) *WhatlangDetector {
	d := &WhatlangDetector{}
	if len(allowed) == 0 {
		return d
	}
	want := make(map[string]bool, len(allowed))
	for _, code := range allowed {
		want[strings.ToLower(code)] = true
	}
	whitelist := make(map[whatlanggo.Lang]bool)
	for lang, code := range isoCodes {
		if want[code] {
			whitelist[lang] = true
		}
	}
	d.options = whatlanggo.Options{Whitelist: whitelist}
	return d
}

// Detect returns the detected language code. Unreliable results and languages without a known code are not ok.
func (d *WhatlangDetector) Detect(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	info := whatlanggo.DetectWithOptions(text, d.options)
	if !info.IsReliable() {
		return "", false
	}
	code, known := isoCodes[info.Lang]
	return code, known
}

// Supported is a set of language codes replies may be rendered in.
type Supported map[string]bool

// NewSupported builds a set from codes, lower-cased.
func NewSupported(codes []string) Supported {
	s := make(Supported, len(codes))
	for _, c := range codes {
		s[strings.ToLower(strings.TrimSpace(c))] = true
	}
	return s
}

// Resolve returns code when it is supported, otherwise base.
func (s Supported) Resolve(code string, ok bool, base string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if !ok || code == "" || !s[code] {
		return base
	}
	return code
}

// DetectOrDefault runs d and resolves the result against supported, falling back to base.
// A nil detector always yields base.
func DetectOrDefault(d Detector, supported Supported, base, text string) string {
	if d == nil {
		return base
	}
	code, ok := d.Detect(text)
	return supported.Resolve(code, ok, base)
}
