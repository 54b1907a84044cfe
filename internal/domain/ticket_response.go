package domain

import "time"

// ResponderType indicates which identity store the responder belongs to.
type ResponderType string

const (
	ResponderCustomer ResponderType = "customer"
	ResponderAgent    ResponderType = "agent"
)

// Responder is a tagged reference to the author of a response.
type Responder struct {
	Type ResponderType `json:"type"`
	ID   string        `json:"id"`
}

// ResponderFor derives the responder variant for an authenticated principal.
func ResponderFor(p Principal) Responder {
	if p.IsAgent() {
		return Responder{Type: ResponderAgent, ID: p.ID}
	}
	return Responder{Type: ResponderCustomer, ID: p.ID}
}

// Response is an append-only entry in a ticket thread.
type Response struct {
	ID          string       `json:"id"`
	Responder   Responder    `json:"responder"`
	Message     string       `json:"message"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Attachment stores metadata for an uploaded file owned by a ticket or response.
type Attachment struct {
	Filename        string    `json:"filename"`
	StorageLocation string    `json:"storage_location"`
	UploadedAt      time.Time `json:"uploaded_at"`
	Size            int64     `json:"size"`
	MimeType        string    `json:"mime_type"`
}
