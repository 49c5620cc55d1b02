package locale

import "strings"

const (
	LanguageHebrew  = "he"
	LanguageEnglish = "en"

	DirectionRTL = "rtl"
	DirectionLTR = "ltr"
)

type Preference struct {
	Language string
	Locale   string
	HTMLLang string
	Dir      string
}

// IsRTL reports whether the preference renders right-to-left.
func (p Preference) IsRTL() bool {
	return p.Dir == DirectionRTL
}

func NormalizeLanguage(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}
	// iw 是希伯来语的旧代码，部分旧版浏览器仍会发送
	if strings.HasPrefix(trimmed, "he") || strings.HasPrefix(trimmed, "iw") {
		return LanguageHebrew
	}
	if strings.HasPrefix(trimmed, "en") {
		return LanguageEnglish
	}
	return ""
}

func LanguageFromCountryCode(code string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return ""
	}
	if trimmed == "IL" {
		return LanguageHebrew
	}
	return LanguageEnglish
}

// LanguageFromAcceptLanguage 取 Accept-Language 中第一个可识别的语言。
func LanguageFromAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if language := NormalizeLanguage(tag); language != "" {
			return language
		}
	}
	return ""
}

func PreferenceForLanguage(language string) Preference {
	normalized := NormalizeLanguage(language)
	if normalized == LanguageEnglish {
		return Preference{Language: LanguageEnglish, Locale: "en_US", HTMLLang: "en-US", Dir: DirectionLTR}
	}
	return Preference{Language: LanguageHebrew, Locale: "he_IL", HTMLLang: "he-IL", Dir: DirectionRTL}
}

// Pick returns the text matching the request language, defaulting to Hebrew.
func Pick(language, english, hebrew string) string {
	if NormalizeLanguage(language) == LanguageEnglish {
		if english != "" {
			return english
		}
		return hebrew
	}
	if hebrew != "" {
		return hebrew
	}
	return english
}
