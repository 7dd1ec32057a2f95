package query

import (
	"sort"
	"unicode"
)

// Script is a Unicode script bucket used for strategy dispatch.
type Script int

const (
	ScriptUnknown Script = iota
	ScriptLatin
	ScriptCyrillic
	ScriptGreek
	ScriptArabic
	ScriptHebrew
	ScriptHan
	ScriptHiragana
	ScriptKatakana
	ScriptHangul
	ScriptDevanagari
	ScriptThai
	ScriptEmoji
	ScriptMixed
)

var scriptNames = map[Script]string{
	ScriptUnknown:    "unknown",
	ScriptLatin:      "latin",
	ScriptCyrillic:   "cyrillic",
	ScriptGreek:      "greek",
	ScriptArabic:     "arabic",
	ScriptHebrew:     "hebrew",
	ScriptHan:        "han",
	ScriptHiragana:   "hiragana",
	ScriptKatakana:   "katakana",
	ScriptHangul:     "hangul",
	ScriptDevanagari: "devanagari",
	ScriptThai:       "thai",
	ScriptEmoji:      "emoji",
	ScriptMixed:      "mixed",
}

func (s Script) String() string {
	if name, ok := scriptNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsCJK reports whether s is Han, kana or Hangul.
func (s Script) IsCJK() bool {
	switch s {
	case ScriptHan, ScriptHiragana, ScriptKatakana, ScriptHangul:
		return true
	}
	return false
}

// family folds the CJK buckets together. A Japanese query naturally mixes
// kanji and kana and must not be treated as mixed-script.
func (s Script) family() Script {
	if s.IsCJK() {
		return ScriptHan
	}
	return s
}

// Detection thresholds.
const (
	// mixedShare is the minimum share two or more families need for Mixed.
	mixedShare = 0.20
	// presentShare is the minimum share for a script to be reported.
	presentShare = 0.05
)

// ScriptShare is the fraction of classified characters in one bucket.
type ScriptShare struct {
	Script Script  `json:"script"`
	Share  float64 `json:"share"`
}

// Detection is the result of script classification.
type Detection struct {
	// Primary is the dominant bucket, or ScriptMixed.
	Primary Script
	// Dominant is the dominant bucket even when Primary is ScriptMixed.
	Dominant   Script
	Confidence float64
	// Scripts lists every bucket at or above 5%, largest first.
	Scripts []ScriptShare
}

// Ambiguous reports a mixed or low-confidence detection.
func (d Detection) Ambiguous() bool {
	return d.Primary == ScriptMixed || (d.Primary != ScriptUnknown && d.Confidence < 0.6)
}

// DetectScript classifies each character of text into a script bucket.
// Whitespace, digits and punctuation are neutral and not counted.
func DetectScript(text string) Detection {
	counts := make(map[Script]int)
	total := 0
	for _, r := range text {
		s := classifyRune(r)
		if s == ScriptUnknown {
			continue
		}
		counts[s]++
		total++
	}
	if total == 0 {
		return Detection{Primary: ScriptUnknown, Dominant: ScriptUnknown}
	}

	shares := make([]ScriptShare, 0, len(counts))
	families := make(map[Script]int)
	for s, n := range counts {
		shares = append(shares, ScriptShare{Script: s, Share: float64(n) / float64(total)})
		families[s.family()] += n
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Share != shares[j].Share {
			return shares[i].Share > shares[j].Share
		}
		return shares[i].Script < shares[j].Script
	})

	d := Detection{
		Primary:    shares[0].Script,
		Dominant:   shares[0].Script,
		Confidence: shares[0].Share,
	}
	for _, sh := range shares {
		if sh.Share >= presentShare {
			d.Scripts = append(d.Scripts, sh)
		}
	}

	significant := 0
	for _, n := range families {
		if float64(n)/float64(total) >= mixedShare {
			significant++
		}
	}
	if significant > 1 {
		d.Primary = ScriptMixed
	}
	return d
}

// classifyRune returns the bucket for r, or ScriptUnknown for neutral characters.
func classifyRune(r rune) Script {
	if unicode.IsSpace(r) {
		return ScriptUnknown
	}
	if isEmoji(r) {
		return ScriptEmoji
	}
	switch {
	case unicode.Is(unicode.Latin, r):
		return ScriptLatin
	case unicode.Is(unicode.Cyrillic, r):
		return ScriptCyrillic
	case unicode.Is(unicode.Greek, r):
		return ScriptGreek
	case unicode.Is(unicode.Arabic, r):
		return ScriptArabic
	case unicode.Is(unicode.Hebrew, r):
		return ScriptHebrew
	case unicode.Is(unicode.Han, r):
		return ScriptHan
	case unicode.Is(unicode.Hiragana, r):
		return ScriptHiragana
	case unicode.Is(unicode.Katakana, r):
		return ScriptKatakana
	case unicode.Is(unicode.Hangul, r):
		return ScriptHangul
	case unicode.Is(unicode.Devanagari, r):
		return ScriptDevanagari
	case unicode.Is(unicode.Thai, r):
		return ScriptThai
	}
	return ScriptUnknown
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // pictographs, emoticons, transport, supplemental
		return true
	case r >= 0x1F000 && r <= 0x1F2FF: // mahjong, dominos, cards, enclosed
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0x2B00 && r <= 0x2BFF: // arrows and stars
		return true
	}
	return false
}

// scriptByName maps script override names.
var scriptByName = map[string]Script{
	"latin":    ScriptLatin,
	"english":  ScriptLatin,
	"cyrillic": ScriptCyrillic,
	"russian":  ScriptCyrillic,
	"greek":    ScriptGreek,
	"arabic":   ScriptArabic,
	"hebrew":   ScriptHebrew,
	"cjk":      ScriptHan,
	"han":      ScriptHan,
	"chinese":  ScriptHan,
	"japanese": ScriptHiragana,
	"korean":   ScriptHangul,
	"emoji":    ScriptEmoji,
}

// ParseScript resolves a script override. Unknown names return false.
func ParseScript(name string) (Script, bool) {
	s, ok := scriptByName[lower(name)]
	return s, ok
}

// scriptByLanguage maps ISO 639-1 hints to script buckets.
var scriptByLanguage = map[string]Script{
	"en": ScriptLatin, "de": ScriptLatin, "fr": ScriptLatin,
	"es": ScriptLatin, "pt": ScriptLatin, "it": ScriptLatin,
	"ru": ScriptCyrillic, "uk": ScriptCyrillic, "bg": ScriptCyrillic,
	"zh": ScriptHan, "ja": ScriptHiragana, "ko": ScriptHangul,
	"ar": ScriptArabic,
	"he": ScriptHebrew,
	"el": ScriptGreek,
}
