package reply

// Message is one prior exchange line.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Window bounds the context passed to the chat model.
type Window struct {
	MaxMessages int
	MaxChars    int
}

// DefaultWindow is used when the configuration leaves the window unset.
var DefaultWindow = Window{MaxMessages: 10, MaxChars: 2000}

// Trim returns the trailing slice of msgs that fits the window. It never
// returns more than MaxMessages messages or more than MaxChars characters,
// and never splits a message.
func (w Window) Trim(msgs []Message) []Message {
	maxMsgs, maxChars := w.MaxMessages, w.MaxChars
	if maxMsgs <= 0 {
		maxMsgs = DefaultWindow.MaxMessages
	}
	if maxChars <= 0 {
		maxChars = DefaultWindow.MaxChars
	}

	start, chars := len(msgs), 0
	for i := len(msgs) - 1; i >= 0 && len(msgs)-i <= maxMsgs; i-- {
		n := len([]rune(msgs[i].Content))
		if chars+n > maxChars {
			break
		}
		chars += n
		start = i
	}
	return append([]Message(nil), msgs[start:]...)
}
