package appointment

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/BTreeMap/ReplyPipe/internal/util"
)

var emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// Phone numbers are accepted with 7 to 15 digits (E.164 upper bound).
const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// cleanName returns the name in title case, or "" if text is not a plausible name.
func cleanName(text string) string {
	fields := strings.Fields(strings.Trim(text, " .,!¡?¿"))
	if len(fields) == 0 || len(fields) > 6 {
		return ""
	}
	letters := 0
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r), r == '@', r == '/', r == '#':
			return ""
		}
	}
	if letters < 2 {
		return ""
	}

	for i, f := range fields {
		runes := []rune(strings.ToLower(f))
		runes[0] = unicode.ToUpper(runes[0])
		fields[i] = string(runes)
	}
	return strings.Join(fields, " ")
}

// cleanEmail returns the lower-cased address, or "" if text is not an e-mail.
func cleanEmail(text string) string {
	e := strings.ToLower(strings.Trim(strings.TrimSpace(text), ".,;"))
	if !emailRe.MatchString(e) {
		return ""
	}
	return e
}

// cleanPhone returns the digits of text, or "" if the count is out of range.
func cleanPhone(text string) string {
	digits := util.DigitsOnly(text)
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return ""
	}
	return digits
}

// phoneFromChatID extracts the phone number carried by a WhatsApp chat id
// ("5215512345678@s.whatsapp.net" or "whatsapp:+5215512345678").
func phoneFromChatID(chatID string) string {
	user := chatID
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, ':'); i >= 0 && !strings.HasPrefix(user, "whatsapp:") {
		user = user[:i]
	}
	return cleanPhone(user)
}
