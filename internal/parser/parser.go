// Package parser decodes raw RFC 5322/MIME byte streams into the
// structured parts the intake pipeline persists. Parsing is a pure
// function over the input; the parser holds no state besides the language
// detector built at construction time.
package parser

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"
	"github.com/pemistahl/lingua-go"

	"github.com/mailsink/mailsink/internal/mail"
)

// Part is one attachment part extracted from a message, prior to upload.
type Part struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Parsed is the structured form of one raw message.
type Parsed struct {
	From        *mail.AddressGroup
	To          []mail.AddressGroup
	Cc          []mail.AddressGroup
	Subject     string
	Text        string
	HTML        string
	Headers     map[string][]string
	SentAt      *time.Time
	Lang        string
	Attachments []Part
}

// Parser decodes messages and detects their language. Detection is
// restricted to a small fixed candidate set; anything undetermined leaves
// the language empty.
type Parser struct {
	detector lingua.LanguageDetector
}

// New builds a parser. The language detector models are loaded once here;
// keep a single parser per process.
func New() *Parser {
	return &Parser{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(lingua.German, lingua.French, lingua.Italian, lingua.English).
			Build(),
	}
}

// Parse decodes one raw message. Malformed input returns an error wrapping
// mail.ErrParseFailed and nothing is kept; input size is bounded by the
// SMTP layer's message size cap, so parsing cannot block indefinitely.
func (p *Parser) Parse(r io.Reader) (*Parsed, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read message: %v", mail.ErrParseFailed, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty message", mail.ErrParseFailed)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mail.ErrParseFailed, err)
	}

	parsed := &Parsed{
		Subject: env.GetHeader("Subject"),
		Text:    env.Text,
		HTML:    env.HTML,
		Headers: headerMap(env),
	}

	if from := env.GetHeaderValues("From"); len(from) > 0 {
		group := addressGroup(from[0])
		parsed.From = &group
	}
	parsed.To = addressGroups(env.GetHeaderValues("To"))
	parsed.Cc = addressGroups(env.GetHeaderValues("Cc"))

	if date := env.GetHeader("Date"); date != "" {
		if t, err := netmail.ParseDate(date); err == nil {
			utc := t.UTC()
			parsed.SentAt = &utc
		}
	}

	// A message with only an HTML part still gets a plain-text body:
	// markup stripped, line breaks preserved, no artificial wrapping.
	if parsed.Text == "" && parsed.HTML != "" {
		if text, err := html2text.FromString(parsed.HTML); err == nil {
			parsed.Text = text
		}
	}

	for _, part := range env.Attachments {
		contentType := part.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		parsed.Attachments = append(parsed.Attachments, Part{
			Filename:    part.FileName,
			ContentType: contentType,
			Content:     part.Content,
		})
	}

	parsed.Lang = p.DetectLang(parsed.Text)

	return parsed, nil
}

// DetectLang returns the 2-letter code of the detected body language, out
// of {de, fr, it, en}, or "" when detection is ambiguous or the text is
// empty.
func (p *Parser) DetectLang(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	lang, ok := p.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

// headerMap collects all headers as received, one slice entry per header
// instance, MIME words decoded.
func headerMap(env *enmime.Envelope) map[string][]string {
	headers := make(map[string][]string)
	for _, key := range env.GetHeaderKeys() {
		headers[key] = append(headers[key], env.GetHeaderValues(key)...)
	}
	return headers
}

// addressGroups builds one group per header occurrence; a single recipient
// still yields a one-element sequence, and insertion order follows the
// original header order.
func addressGroups(values []string) []mail.AddressGroup {
	groups := make([]mail.AddressGroup, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		groups = append(groups, addressGroup(v))
	}
	return groups
}

// addressGroup keeps the decoded header text verbatim and parses the
// mailboxes out of it. Unparseable address lists keep the text and carry
// no values.
func addressGroup(text string) mail.AddressGroup {
	group := mail.AddressGroup{Text: text}
	addrs, err := netmail.ParseAddressList(text)
	if err != nil {
		return group
	}
	for _, a := range addrs {
		group.Values = append(group.Values, mail.Address{Address: a.Address, Name: a.Name})
	}
	return group
}
