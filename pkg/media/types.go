package media

// ContentPart is one piece of a multimodal user message. Images carry
// base64 data; everything else is rendered to text.
type ContentPart struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	FileName  string `json:"file_name,omitempty"`
}

func (p ContentPart) IsImage() bool {
	return p.Type == "image"
}
