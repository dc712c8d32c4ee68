// Package dialog defines the reply model produced by a dialog turn.
package dialog

// Reply is the outcome of one dialog turn. AudioRef is set by providers
// that return pre-rendered audio instead of relying on speech synthesis.
type Reply struct {
	Text     string
	AudioRef *string
}

type TurnOptions struct {
	SessionID string
	Language  string
}

type TurnOption func(*TurnOptions)

// WithSessionID scopes conversation history to a session.
func WithSessionID(sessionID string) TurnOption {
	return func(o *TurnOptions) { o.SessionID = sessionID }
}

func WithLanguage(language string) TurnOption {
	return func(o *TurnOptions) { o.Language = language }
}

func NewTurnOptions(opts ...TurnOption) TurnOptions {
	options := TurnOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
