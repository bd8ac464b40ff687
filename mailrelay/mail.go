package mailrelay

// Identity represents the verified claims of a signed identity token.
// It only lives for the duration of a single request.
type Identity struct {
	Subject string // token subject id
	Role    string
	Name    string // display name, used in greetings
	Email   string // implicit recipient on identity-gated routes
}

// Envelope represents a resolved send intent. The field resolver only
// produces an Envelope once From, To, Subject and HTMLBody are non-empty.
type Envelope struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	HTMLBody  string `json:"html"`
	PlainBody string `json:"text"` // derived from HTMLBody by the sanitizer
}

// Attachment represents a decoded file attached to a Message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Message is what a mail transport receives: an envelope plus its attachments.
type Message struct {
	Envelope    Envelope     `json:"envelope"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
