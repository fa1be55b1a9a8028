package interpreter

import (
	"context"
	"time"

	"github.com/herambskanda/teletrade/internal/intent"
)

// Message is one raw channel message handed to the interpreter.
type Message struct {
	Text   string
	Source string
	ID     string
	At     time.Time
}

// Interpreter turns free-form channel text into a structured intent.
// A nil intent with a nil error means the message carried no actionable
// signal (chatter, commentary, greetings).
type Interpreter interface {
	Interpret(ctx context.Context, msg Message) (*intent.Intent, error)
}
