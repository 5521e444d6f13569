package slack

// Message is a chat.postMessage payload.
type Message struct {
	Channel string  `json:"channel"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks,omitempty"`
}

// Block is one Block Kit layout block.
type Block struct {
	Type     string    `json:"type"`
	Text     *Text     `json:"text,omitempty"`
	Fields   []Text    `json:"fields,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

// Text is a Block Kit text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Element is a block element. Context blocks carry a plain string in
// Text; buttons carry a *Text label plus a URL.
type Element struct {
	Type string `json:"type"`
	Text any    `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

func mrkdwn(text string) *Text {
	return &Text{Type: "mrkdwn", Text: text}
}

func plain(text string) *Text {
	return &Text{Type: "plain_text", Text: text}
}

func header(text string) Block {
	return Block{Type: "header", Text: plain(text)}
}

func section(text string) Block {
	return Block{Type: "section", Text: mrkdwn(text)}
}

func fields(texts ...string) Block {
	b := Block{Type: "section"}
	for _, t := range texts {
		b.Fields = append(b.Fields, *mrkdwn(t))
	}
	return b
}

func contextBlock(text string) Block {
	return Block{Type: "context", Elements: []Element{{Type: "mrkdwn", Text: text}}}
}

func divider() Block {
	return Block{Type: "divider"}
}

func button(label, url string) Element {
	return Element{Type: "button", Text: plain(label), URL: url}
}
