package whatsapp

// Inbound webhook envelope, per the Cloud API change notification format.
// Only the fields the dispatcher reads are modeled.

type WebhookEnvelope struct {
	Entry []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	Messages []InboundMessage `json:"messages"`
	Contacts []InboundContact `json:"contacts"`
}

type InboundContact struct {
	WaID    string         `json:"wa_id"`
	Profile InboundProfile `json:"profile"`
}

type InboundProfile struct {
	Name string `json:"name"`
}

type InboundMessage struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *InboundText        `json:"text,omitempty"`
	Interactive *InboundInteractive `json:"interactive,omitempty"`
}

type InboundText struct {
	Body string `json:"body"`
}

type InboundInteractive struct {
	Type        string              `json:"type"`
	ButtonReply *InboundButtonReply `json:"button_reply,omitempty"`
}

type InboundButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Body returns the effective message text: the button title for interactive
// replies, the text body otherwise.
func (m *InboundMessage) Body() string {
	if m.Interactive != nil && m.Interactive.ButtonReply != nil {
		return m.Interactive.ButtonReply.Title
	}
	if m.Text != nil {
		return m.Text.Body
	}
	return ""
}
