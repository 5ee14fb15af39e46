package models

import "time"

// FileRecord is the local index entry for a stored file. The record id is
// also the remote object name on the node.
type FileRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Filename   string    `json:"filename"`
	NodeID     string    `json:"node_id"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mime_type,omitempty"`
	DateAdded  time.Time `json:"date_added"`
	SharedWith []string  `json:"shared_with"`
}

// CanRead reports whether userID owns the file or has it shared with them.
func (f *FileRecord) CanRead(userID string) bool {
	if f.UserID == userID {
		return true
	}
	for _, shared := range f.SharedWith {
		if shared == userID {
			return true
		}
	}
	return false
}

// FileContent is a decrypted download.
type FileContent struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Content  []byte `json:"-"`
}

// OperationResult is returned by placement operations that report a
// user-facing message alongside the outcome.
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	FileID  string `json:"file_id,omitempty"`
}
