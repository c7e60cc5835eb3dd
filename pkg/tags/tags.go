// Package tags holds the cheap content classifiers attached to every
// archived message.
package tags

import "regexp"

var (
	linkPattern = regexp.MustCompile(
		`(?i)https?://\S+|www\.\S+|[a-zA-Z0-9-]+\.(com|org|net|in|co|io|me|app|dev|xyz|info|biz|edu|gov)\S*`,
	)
	pricePattern = regexp.MustCompile(
		`(?i)[₹$€£¥]\s?[\d,]+\.?\d*|Rs\.?\s?[\d,]+\.?\d*|\d[\d,]*(\.\d{2})?\s?(rupees?|rs|inr|dollars?|usd|euros?|lakhs?|crores?|k|l|cr)\b`,
	)
)

// HasLinks reports whether the text contains a URL-looking token.
func HasLinks(text string) bool {
	if text == "" {
		return false
	}
	return linkPattern.MatchString(text)
}

// HasPrices reports whether the text mentions an amount of money.
func HasPrices(text string) bool {
	if text == "" {
		return false
	}
	return pricePattern.MatchString(text)
}
