package interp

// Message is the message a script is evaluated against.
type Message interface {
	// HeaderValues returns the decoded values of every field with the given
	// name, in message order.
	HeaderValues(name string) []string
	// Size is the message size in octets.
	Size() int64
	// Body returns the body parts selected by transform.
	Body(transform BodyTransform) ([]string, error)
}

// BodyTransform selects how body content is presented to the body test.
type BodyTransform int

const (
	// BodyText yields the text parts, with HTML converted to plain text.
	BodyText BodyTransform = iota
	// BodyRaw yields the undecoded body.
	BodyRaw
)

func (t BodyTransform) String() string {
	if t == BodyRaw {
		return "raw"
	}
	return "text"
}

// Envelope is the SMTP envelope of the delivery.
type Envelope struct {
	From string
	To   string
	Auth string
}

// ScriptEnv is everything a run knows about the delivery besides the
// message itself.
type ScriptEnv struct {
	Message  Message
	Envelope Envelope
	// Username owns the script.
	Username string
	// DefaultMailbox receives kept messages; INBOX when empty.
	DefaultMailbox string
}

// Mailbox returns the mailbox used by keep.
func (e *ScriptEnv) Mailbox() string {
	if e == nil || e.DefaultMailbox == "" {
		return "INBOX"
	}
	return e.DefaultMailbox
}
