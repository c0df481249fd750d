package papers

import "context"

// LinkStore covers the PaperMetadata/User/UserPaperLink/EditedSummary CRUD
// surface that sits around the summary tables: paper ingestion, per-user
// links and tags, and the cascades spec.md §3 documents.
type LinkStore interface {
	EnsurePaper(ctx context.Context, externalID, url, title, authors, abstract string) (PaperMetadata, error)
	SetFullText(ctx context.Context, paperID int64, fullText string) error
	GetPaper(ctx context.Context, paperID int64) (PaperMetadata, bool, error)
	GetPaperByExternalID(ctx context.Context, externalID string) (PaperMetadata, bool, error)

	GetUser(ctx context.Context, userID int64) (User, bool, error)

	EnsureLink(ctx context.Context, userID, paperID int64) (UserPaperLink, error)
	GetLink(ctx context.Context, userID, paperID int64) (UserPaperLink, bool, error)
	GetLinkByID(ctx context.Context, linkID int64) (UserPaperLink, bool, error)
	SetSelection(ctx context.Context, linkID int64, defaultID, customID *int64) error
	SetTags(ctx context.Context, linkID int64, tags []string) error
	TouchAccessed(ctx context.Context, linkID int64) error
	// DeleteLink cascades to edited summaries, custom summaries for
	// (user, paper), and paper-chat sessions/messages, per spec.md §3. The
	// caller is responsible for the vector-store side of the cascade (C3).
	DeleteLink(ctx context.Context, userID, paperID int64) error

	LinksWithTag(ctx context.Context, userID int64, tag string, limit int) ([]UserPaperLink, error)
	CandidateLinks(ctx context.Context, userID int64, excludeTags []string) ([]UserPaperLink, error)

	UpsertEditedSummary(ctx context.Context, userID int64, defaultID, customID *int64, body, onePoint string) (EditedSummary, error)
}
