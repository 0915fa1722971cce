// Package moderation gates text content and image references before
// they reach a game channel. Checks are synchronous and never touch
// the network.
package moderation

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
)

// defaultBlockedWords is the built-in denylist (slurs and hate
// speech), used when moderation is enabled and no custom list is
// configured. Fantasy violence and in-game combat terms are
// intentionally excluded.
var defaultBlockedWords = []string{
	// Racial/ethnic slurs
	"chink", "gook", "kike", "nigger", "nigga", "spic", "wetback", "beaner",
	"coon", "darkie", "raghead", "towelhead", "sandnigger", "zipperhead",
	"honky", "cracker", "gringo", "redskin", "injun", "chinaman",
	// Homophobic/transphobic slurs
	"faggot", "fag", "dyke", "tranny",
	// Ableist slurs
	"retard", "retarded",
}

// Gate checks message content and image URLs against moderation
// rules. The zero value passes everything; use New to get a
// configured gate.
type Gate struct {
	enabled  bool
	patterns []*regexp.Regexp
}

// New builds a Gate. When enabled and blockedWords is empty, the
// built-in default list is used.
func New(enabled bool, blockedWords []string) *Gate {
	words := blockedWords
	if enabled && len(words) == 0 {
		words = defaultBlockedWords
	}
	patterns := make([]*regexp.Regexp, 0, len(words))
	for _, w := range words {
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return &Gate{enabled: enabled, patterns: patterns}
}

// CheckText validates text content. It returns a validation error
// when the content matches the denylist.
func (g *Gate) CheckText(content string) error {
	if !g.enabled {
		return nil
	}
	for _, p := range g.patterns {
		if p.MatchString(content) {
			return apperrors.New(apperrors.KindValidation,
				"message blocked by content filter; keep content appropriate for all audiences")
		}
	}
	return nil
}

// blockedHostnames are names that resolve to the local machine
// without being IP literals.
var blockedHostnames = map[string]bool{
	"localhost": true,
	"0.0.0.0":   true,
}

// CheckImage validates an image URL: HTTPS only, and no references to
// loopback, private, link-local or reserved addresses, so the service
// cannot be used to probe internal networks.
func (g *Gate) CheckImage(imageURL string) error {
	if !g.enabled {
		return nil
	}

	if !strings.HasPrefix(imageURL, "https://") {
		return apperrors.New(apperrors.KindValidation, "image URLs must use HTTPS")
	}

	parsed, err := url.Parse(imageURL)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "invalid image URL", err)
	}
	hostname := strings.ToLower(parsed.Hostname())

	if blockedHostnames[hostname] || strings.HasSuffix(hostname, ".localhost") {
		return apperrors.New(apperrors.KindValidation, "image URLs cannot reference local addresses")
	}

	// Catch IP literals, including bracketed IPv6 and decimal/hex
	// encodings that net.ParseIP understands.
	if addr := net.ParseIP(hostname); addr != nil {
		if addr.IsLoopback() || addr.IsUnspecified() {
			return apperrors.New(apperrors.KindValidation, "image URLs cannot reference local addresses")
		}
		if addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || !addr.IsGlobalUnicast() {
			return apperrors.New(apperrors.KindValidation, "image URLs cannot reference private network addresses")
		}
	}

	return nil
}
