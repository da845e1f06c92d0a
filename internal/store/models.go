package store

import "time"

// InboxType enumerates §3 Inbox.type.
type InboxType string

const (
	InboxExternal  InboxType = "external"
	InboxGenerated InboxType = "generated"
)

// InboxStatus enumerates §3 Inbox.status.
type InboxStatus string

const (
	InboxActive    InboxStatus = "active"
	InboxSuspended InboxStatus = "suspended"
	InboxDeleted   InboxStatus = "deleted"
)

// Inbox mirrors the §3 Inbox record.
type Inbox struct {
	ID          string      `db:"id"`
	Email       string      `db:"email"`
	Type        InboxType   `db:"type"`
	Status      InboxStatus `db:"status"`
	POP3Host    string      `db:"pop3_host"`
	POP3Port    string      `db:"pop3_port"`
	POP3TLS     bool        `db:"pop3_tls"`
	UsernameEnc string      `db:"username_enc"`
	PasswordEnc string      `db:"password_enc"`
	LastSeenUID *string     `db:"last_seen_uid"`
	DomainID    *string     `db:"domain_id"`
	CreatorAddr string      `db:"creator_addr"`
	TTLSeconds  int         `db:"ttl_seconds"`
	CreatedAt   time.Time   `db:"created_at"`
	DeletedAt   *time.Time  `db:"deleted_at"`
}

// TokenStatus enumerates §3 Token.status.
type TokenStatus string

const (
	TokenActive  TokenStatus = "active"
	TokenRevoked TokenStatus = "revoked"
	TokenExpired TokenStatus = "expired"
)

// Token mirrors the §3 Token record.
type Token struct {
	ID         string      `db:"id"`
	InboxID    string      `db:"inbox_id"`
	TokenHash  string      `db:"token_hash"`
	Status     TokenStatus `db:"status"`
	ExpiresAt  time.Time   `db:"expires_at"`
	IssuerAddr string      `db:"issuer_addr"`
	CreatedAt  time.Time   `db:"created_at"`
	RevokedAt  *time.Time  `db:"revoked_at"`
}

// TokenWithInbox is the join row LookupByHash returns: the token plus
// the inbox status the request-path auth check needs (§4.H).
type TokenWithInbox struct {
	Token
	InboxStatus InboxStatus `db:"inbox_status"`
}

// Message mirrors the §3 Message record, with recipients/headers
// stored as JSON columns.
type Message struct {
	ID             string    `db:"id"`
	InboxID        string    `db:"inbox_id"`
	UID            string    `db:"uid"`
	MessageID      string    `db:"message_id"`
	SenderAddress  string    `db:"sender_address"`
	SenderName     string    `db:"sender_name"`
	RecipientsJSON string    `db:"recipients_json"`
	Subject        string    `db:"subject"`
	TextBody       string    `db:"text_body"`
	HTMLBody       string    `db:"html_body"`
	HeadersJSON    string    `db:"headers_json"`
	SizeBytes      int       `db:"size_bytes"`
	ReceivedAt     time.Time `db:"received_at"`
	FetchedAt      time.Time `db:"fetched_at"`
}

// Attachment mirrors the §3 Attachment record.
type Attachment struct {
	ID             string `db:"id"`
	MessageID      string `db:"message_id"`
	InboxID        string `db:"inbox_id"`
	Filename       string `db:"filename"`
	ContentType    string `db:"content_type"`
	SizeBytes      int    `db:"size_bytes"`
	ContentID      string `db:"content_id"`
	ChecksumSHA256 string `db:"checksum_sha256"`
	Content        []byte `db:"content"`
}

// Domain mirrors the §3 Domain record.
type Domain struct {
	ID        string    `db:"id"`
	FQDN      string    `db:"fqdn"`
	POP3Host  string    `db:"pop3_host"`
	POP3Port  string    `db:"pop3_port"`
	POP3TLS   bool      `db:"pop3_tls"`
	IsLocal   bool      `db:"is_local"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

// AuditLog mirrors the §3 Audit event record.
type AuditLog struct {
	ID           string    `db:"id"`
	Kind         string    `db:"kind"`
	InboxID      *string   `db:"inbox_id"`
	ActorAddr    string    `db:"actor_addr"`
	MetadataJSON string    `db:"metadata_json"`
	CreatedAt    time.Time `db:"created_at"`
}

// BulkGeneration mirrors the expanded §3 BulkGeneration record.
type BulkGeneration struct {
	ID             string    `db:"id"`
	DomainID       string    `db:"domain_id"`
	CountRequested int       `db:"count_requested"`
	CountCreated   int       `db:"count_created"`
	IssuerAddr     string    `db:"issuer_addr"`
	CreatedAt      time.Time `db:"created_at"`
}
