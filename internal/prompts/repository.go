package prompts

import "context"

// Repository is the storage dependency behind Resolve/ResolveGroup. It is
// read-mostly from the resolver's point of view; prompt CRUD (create/edit a
// custom prompt) lives on the same interface since it shares storage but is
// not exercised by the resolution path itself.
type Repository interface {
	GetByID(ctx context.Context, id int64) (Prompt, bool, error)
	// GetDefaultForType returns the global default prompt for t
	// (OwnerUserID == nil), if one has been seeded.
	GetDefaultForType(ctx context.Context, t Type) (Prompt, bool, error)
	GetGroup(ctx context.Context, name string, userID int64, category string) (PromptGroup, bool, error)

	CreatePrompt(ctx context.Context, p Prompt) (Prompt, error)
	UpdatePrompt(ctx context.Context, p Prompt) (Prompt, error)
	ListForUser(ctx context.Context, userID int64, t Type) ([]Prompt, error)
}
