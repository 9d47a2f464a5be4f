package humanize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxEmoji is the most emoji a reply may carry before it reads as automated.
const MaxEmoji = 3

// Validation issues.
const (
	IssueSelfReference = "self_reference"
	IssueNumberedList  = "numbered_list"
	IssueTooManyEmoji  = "too_many_emoji"
)

// selfReferenceRes match phrasing that reveals automation. The first group of
// each pattern is removed by HumanizeResponse.
var selfReferenceRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\bcomo (un |una |tu )?(asistente( virtual)?|modelo de lenguaje|inteligencia artificial|ia|bot|chatbot)\b( de [^,.]+)?,?\s*)`),
	regexp.MustCompile(`(?i)(\b(yo )?soy (un |una |tu )?(asistente virtual|asistente de ia|modelo de lenguaje|inteligencia artificial|bot|chatbot|robot)\b[^.!?\n]*[.!?]?\s*)`),
	regexp.MustCompile(`(?i)(\bas an? (ai|artificial intelligence|language model|ai language model|virtual assistant|assistant|bot)\b,?\s*)`),
	regexp.MustCompile(`(?i)(\b(i'?m|i am) (an? )?(ai|artificial intelligence|language model|ai language model|virtual assistant|chatbot|bot)\b[^.!?\n]*[.!?]?\s*)`),
}

var numberedItemRe = regexp.MustCompile(`(?m)^[ \t]*\d{1,2}[.)][ \t]+`)

// interjections are occasionally prepended to make a reply sound typed.
var interjections = []string{"Mira, ", "Claro, ", "Oye, ", "Va, "}

// InterjectionProbability is the chance HumanizeResponse prepends an interjection.
const InterjectionProbability = 0.1

// Validation is the result of screening a model reply.
type Validation struct {
	Valid  bool
	Issues []string
}

// ValidateResponse flags phrasing that reveals automation.
func ValidateResponse(text string) Validation {
	var issues []string
	for _, re := range selfReferenceRes {
		if re.MatchString(text) {
			issues = append(issues, IssueSelfReference)
			break
		}
	}
	if len(numberedItemRe.FindAllStringIndex(text, -1)) >= 2 {
		issues = append(issues, IssueNumberedList)
	}
	if CountEmoji(text) > MaxEmoji {
		issues = append(issues, IssueTooManyEmoji)
	}
	return Validation{Valid: len(issues) == 0, Issues: issues}
}

// HumanizeResponse rewrites text: self references are stripped, numbered lists
// become bullets and emoji beyond MaxEmoji are dropped. With low probability a
// casual interjection is prepended.
func (h *Humanizer) HumanizeResponse(text string) string {
	out := text
	for _, re := range selfReferenceRes {
		out = re.ReplaceAllString(out, "")
	}
	out = numberedItemRe.ReplaceAllString(out, "• ")
	out = trimEmoji(out, MaxEmoji)
	out = strings.TrimSpace(collapseSpaces(out))
	if out == "" {
		return out
	}
	out = capitalize(out)

	if h.chance(InterjectionProbability) && !startsWithInterjection(out) {
		prefix := interjections[h.intN(len(interjections))]
		out = prefix + lowerFirst(out)
	}
	return out
}

// CountEmoji counts pictographic runes in text.
func CountEmoji(text string) int {
	n := 0
	for _, r := range text {
		if isEmoji(r) {
			n++
		}
	}
	return n
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF:
		return true
	}
	return false
}

// trimEmoji keeps the first max emoji and drops the rest, along with any
// variation selector that followed a dropped one.
func trimEmoji(text string, max int) string {
	var b strings.Builder
	kept := 0
	dropping := false
	for _, r := range text {
		if isEmoji(r) {
			kept++
			dropping = kept > max
			if dropping {
				continue
			}
		} else if r == 0xFE0F || r == 0x200D {
			if dropping {
				continue
			}
		} else {
			dropping = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func collapseSpaces(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.Join(lines, "\n")
}

func capitalize(text string) string {
	r, size := utf8.DecodeRuneInString(text)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return text
	}
	return string(unicode.ToUpper(r)) + text[size:]
}

func lowerFirst(text string) string {
	r, size := utf8.DecodeRuneInString(text)
	if r == utf8.RuneError {
		return text
	}
	// Acronyms such as "IVA" stay as they are.
	if next, _ := utf8.DecodeRuneInString(text[size:]); unicode.IsUpper(next) {
		return text
	}
	return string(unicode.ToLower(r)) + text[size:]
}

func startsWithInterjection(text string) bool {
	for _, p := range interjections {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return strings.HasPrefix(text, "¡") || strings.HasPrefix(text, "¿")
}
