package models

// MailMetadata holds the pieces of a message shown in a notification
type MailMetadata struct {
	From    string
	Subject string
	Path    string
}
