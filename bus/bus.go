package bus

import (
	"errors"
	"strings"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte
}

// MessageBus provides fire-and-forget pub/sub messaging.
type MessageBus interface {
	// Publish sends a message to all subscribers of a subject.
	// It does not wait for delivery.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription. The subject may use NATS
	// wildcards: "*" matches one token, a trailing ">" matches the rest.
	Subscribe(subject string) (Subscription, error)

	// Close shuts down the bus connection.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels. Messages beyond it are dropped.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks a publish subject: non-empty dot-separated
// tokens without wildcards or whitespace.
func ValidateSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n*>") {
		return ErrInvalidSubject
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "" {
			return ErrInvalidSubject
		}
	}
	return nil
}

// ValidatePattern checks a subscription subject, which may contain
// wildcards.
func ValidatePattern(pattern string) error {
	if pattern == "" || strings.ContainsAny(pattern, " \t\r\n") {
		return ErrInvalidSubject
	}
	toks := strings.Split(pattern, ".")
	for i, tok := range toks {
		switch {
		case tok == "":
			return ErrInvalidSubject
		case tok == ">" && i != len(toks)-1:
			return ErrInvalidSubject
		case tok != "*" && tok != ">" && strings.ContainsAny(tok, "*>"):
			return ErrInvalidSubject
		}
	}
	return nil
}

// MatchSubject reports whether subject matches pattern using NATS
// wildcard rules.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
