package moderation

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// emojiWords maps emojis commonly used as sexual shorthand to the words they
// stand in for. Substitution happens before lowercasing, so values are
// already lowercase.
var emojiWords = map[string]string{
	"🍆":  "dick",
	"🍑":  "ass",
	"💦":  "cum",
	"🥵":  "horny",
	"👅":  "tongue",
	"🍒":  "tits",
	"🌮":  "pussy",
	"🔞":  "nsfw",
	"😈":  "naughty",
	"😘":  "kiss",
	"💋":  "kiss",
	"🛏️": "bed",
	"🔥":  "hot",
}

// leetRunes maps leetspeak substitutions back to letters. Symbols always
// decode inside letter-bearing tokens; digits decode only when the token
// holds more letters than digits, so "s3x" becomes "sex" while age tokens
// like "14yo" keep their digits for the hard rules.
var leetRunes = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'8': 'b',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalize canonicalizes text for rule and pattern matching. Steps run in a
// fixed order: Unicode NFKC folding, emoji substitution, whitespace
// collapsing, lowercasing, leetspeak decoding, and joining of spaced-out
// single letters ("s e x" becomes "sex").
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	for emoji, word := range emojiWords {
		text = strings.ReplaceAll(text, emoji, " "+word+" ")
	}
	text = whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	text = strings.ToLower(text)
	text = decodeLeet(text)
	return joinSpacedLetters(text)
}

func decodeLeet(text string) string {
	tokens := strings.Split(text, " ")
	for i, tok := range tokens {
		letters, digits := 0, 0
		for _, r := range tok {
			switch {
			case unicode.IsLetter(r):
				letters++
			case unicode.IsDigit(r):
				digits++
			}
		}
		if letters == 0 {
			continue
		}
		decodeDigits := letters > digits
		var b strings.Builder
		b.Grow(len(tok))
		for _, r := range tok {
			sub, ok := leetRunes[r]
			if ok && (decodeDigits || !unicode.IsDigit(r)) {
				b.WriteRune(sub)
			} else {
				b.WriteRune(r)
			}
		}
		tokens[i] = b.String()
	}
	return strings.Join(tokens, " ")
}

// joinSpacedLetters merges runs of 2-4 single-letter tokens into one word so
// spacing cannot hide a term from the matchers. Longer runs are left alone
// to avoid mangling initialisms spelled out on purpose.
func joinSpacedLetters(text string) string {
	tokens := strings.Split(text, " ")
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		run := 0
		for i+run < len(tokens) && isSingleLetter(tokens[i+run]) {
			run++
		}
		switch {
		case run >= 2 && run <= 4:
			out = append(out, strings.Join(tokens[i:i+run], ""))
			i += run
		case run > 4:
			out = append(out, tokens[i:i+run]...)
			i += run
		default:
			out = append(out, tokens[i])
			i++
		}
	}
	return strings.Join(out, " ")
}

func isSingleLetter(tok string) bool {
	if len(tok) != 1 {
		return false
	}
	r := rune(tok[0])
	return unicode.IsLetter(r)
}
