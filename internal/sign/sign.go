// Package sign assembles recognized hand gestures into a spoken sentence.
package sign

import (
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/8428215330a-ui/Jarvis/internal/logstream"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/speech"
)

// Token is one recognized gesture.
type Token string

const (
	TokenHow Token = "How"
	TokenAre Token = "Are"
	TokenYou Token = "You"
	// NoMatch stands for any classifier output outside the vocabulary.
	NoMatch Token = ""
)

// Vocabulary lists the accepted gestures.
var Vocabulary = []Token{TokenHow, TokenAre, TokenYou}

// Target is the phrase that completes a sentence.
var Target = []Token{TokenHow, TokenAre, TokenYou}

// TargetUtterance is spoken and logged when Target is formed.
const TargetUtterance = "How are you?"

// DefaultMaxBuffer bounds the token buffer.
const DefaultMaxBuffer = 16

// Prompt instructs the vision model how to classify a frame.
const Prompt = `Analyze the hand gesture strictly:
- If the hand is an "Open Palm" (fingers spread), output "How".
- If only "Two Fingers" are extended (like a peace sign or V), output "Are".
- If the finger is "Pointing" at the camera (Index finger), output "You".
- If none of these specific gestures are clear, output "WAITING".
Return ONLY the single word string.`

// SystemPrompt is the system instruction sent with Prompt.
const SystemPrompt = "You are a specialized sign language translator."

// Classify cleans a raw model answer down to letters and maps it onto the
// vocabulary. Matching is exact after cleaning.
func Classify(raw string) Token {
	cleaned := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			return r
		}
		return -1
	}, raw)
	for _, tok := range Vocabulary {
		if Token(cleaned) == tok {
			return tok
		}
	}
	return NoMatch
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithMaxBuffer bounds the buffer; the oldest tokens are evicted beyond it.
func WithMaxBuffer(n int) Option {
	return func(a *Assembler) {
		if n >= len(Target) {
			a.maxBuffer = n
		}
	}
}

// Assembler accumulates gesture tokens until the target phrase is formed.
type Assembler struct {
	log       logstream.Appender
	speaker   speech.Speaker
	maxBuffer int

	mu     sync.Mutex
	buffer []Token
	last   Token
}

// NewAssembler creates an empty Assembler.
func NewAssembler(log logstream.Appender, speaker speech.Speaker, opts ...Option) *Assembler {
	a := &Assembler{log: log, speaker: speaker, maxBuffer: DefaultMaxBuffer}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Accept feeds one classified token. It reports whether the token was
// appended and whether it completed the target phrase.
func (a *Assembler) Accept(tok Token) (appended, formed bool) {
	if tok == NoMatch {
		return false, false
	}

	a.mu.Lock()
	if tok == a.last {
		a.mu.Unlock()
		return false, false
	}
	a.last = tok
	a.buffer = append(a.buffer, tok)
	if len(a.buffer) > a.maxBuffer {
		slog.Debug("Assembler.Accept: evicting oldest token", "token", a.buffer[0])
		a.buffer = append([]Token(nil), a.buffer[len(a.buffer)-a.maxBuffer:]...)
	}
	formed = hasSuffix(a.buffer, Target)
	if formed {
		a.buffer = nil
	}
	a.mu.Unlock()

	a.log.Append(models.SenderAssistant, models.CategoryInfo, "Gesture Detected: "+string(tok))
	if formed {
		a.speaker.Speak(TargetUtterance)
		a.log.Append(models.SenderAssistant, models.CategorySuccess, "Sentence Formed: "+TargetUtterance)
	}
	return true, formed
}

// Buffer returns a copy of the pending tokens.
func (a *Assembler) Buffer() []Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Token(nil), a.buffer...)
}

// Reset clears the buffer and forgets the last accepted token.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = nil
	a.last = NoMatch
}

func hasSuffix(buf, suffix []Token) bool {
	if len(buf) < len(suffix) {
		return false
	}
	tail := buf[len(buf)-len(suffix):]
	for i := range suffix {
		if tail[i] != suffix[i] {
			return false
		}
	}
	return true
}
