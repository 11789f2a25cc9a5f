package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/matheus3301/campus/internal/tree"
)

// Users reads and writes profiles under users/.
type Users struct {
	tree *tree.Tree
}

// NewUsers creates the user directory over t.
func NewUsers(t *tree.Tree) *Users {
	return &Users{tree: t}
}

// SaveUser writes the profile fields of u. Push tokens are left untouched.
func (s *Users) SaveUser(ctx context.Context, u User) error {
	if strings.TrimSpace(u.UserID) == "" {
		return invalid("user id is required")
	}
	if strings.TrimSpace(u.FirstName) == "" {
		return invalid("first name is required")
	}
	if u.SelectedRole == "" {
		u.SelectedRole = RoleStudent
	}
	if u.SelectedRole != RoleStudent && u.SelectedRole != RoleFacultyMember {
		return invalid("unknown role %q", u.SelectedRole)
	}

	fields := map[string]any{
		"userId":         u.UserID,
		"firstName":      u.FirstName,
		"lastName":       u.LastName,
		"firstLast":      strings.ToLower(strings.TrimSpace(u.FirstName + " " + u.LastName)),
		"email":          u.Email,
		"selectedRole":   string(u.SelectedRole),
		"profilePicture": optional(u.ProfilePicture),
		"about":          optional(u.About),
		"studentNumber":  optional(u.StudentNumber),
	}
	if err := s.tree.Update(ctx, userPath(u.UserID), fields); err != nil {
		return fmt.Errorf("save user %s: %w", u.UserID, err)
	}
	return nil
}

// GetUser reads one profile.
func (s *Users) GetUser(ctx context.Context, userID string) (*User, error) {
	snap, err := s.tree.Get(ctx, userPath(userID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, notFound("user %s", userID)
	}
	var u User
	if err := snap.Decode(&u); err != nil {
		return nil, err
	}
	u.UserID = userID
	return &u, nil
}

// SearchUsers returns users whose "first last" starts with query,
// case-insensitively, ordered by name.
func (s *Users) SearchUsers(ctx context.Context, query string) ([]User, error) {
	term := strings.ToLower(strings.TrimSpace(query))
	if term == "" {
		return nil, invalid("empty search")
	}
	hits, err := s.tree.Query(ctx, usersRoot, tree.Query{
		OrderByChild: "firstLast",
		StartAt:      term,
		EndAt:        term + "\uf8ff",
	})
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(hits))
	for _, h := range hits {
		var u User
		if err := h.Decode(&u); err != nil {
			return nil, err
		}
		u.UserID = h.Key()
		u.PushTokens = nil
		out = append(out, u)
	}
	return out, nil
}

// PushTokens lists the device tokens registered for userID.
func (s *Users) PushTokens(ctx context.Context, userID string) ([]string, error) {
	snap, err := s.tree.Get(ctx, pushTokensPath(userID))
	if err != nil {
		return nil, err
	}
	var tokens []string
	for _, c := range snap.Children() {
		tok, ok := c.Value.(string)
		if ok && tok != "" && !slices.Contains(tokens, tok) {
			tokens = append(tokens, tok)
		}
	}
	return tokens, nil
}

// AddPushToken registers a device token. Known tokens are not added twice.
func (s *Users) AddPushToken(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return invalid("user id and token are required")
	}
	tokens, err := s.PushTokens(ctx, userID)
	if err != nil {
		return err
	}
	if slices.Contains(tokens, token) {
		return nil
	}
	if _, err := s.tree.Push(ctx, pushTokensPath(userID), token); err != nil {
		return fmt.Errorf("add push token for %s: %w", userID, err)
	}
	return nil
}

// firstName is used in info messages; unknown users fall back to their id.
func (s *Users) firstName(ctx context.Context, userID string) string {
	u, err := s.GetUser(ctx, userID)
	if err != nil || u.FirstName == "" {
		return userID
	}
	return u.FirstName
}

func (s *Users) fullName(ctx context.Context, userID string) string {
	u, err := s.GetUser(ctx, userID)
	if err != nil || u.FullName() == "" {
		return userID
	}
	return u.FullName()
}

// optional maps "" to nil so Update removes the field instead of storing "".
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
