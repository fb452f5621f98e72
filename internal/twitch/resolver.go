package twitch

import (
	"context"
	"strings"

	"github.com/nicklaw5/helix/v2"
)

// Resolution partitions the normalized input: every name is in exactly one of
// Resolved (name -> user id) or Unresolved.
type Resolution struct {
	Resolved   map[string]string
	Unresolved []string
}

// NotFound returns a *NotFoundError for the unresolved names, or nil.
func (r Resolution) NotFound() error {
	if len(r.Unresolved) == 0 {
		return nil
	}
	return &NotFoundError{Names: append([]string(nil), r.Unresolved...)}
}

type Resolver struct {
	api *API
}

func NewResolver(api *API) *Resolver { return &Resolver{api: api} }

// Resolve looks names up in batches of MaxBatch. Names the directory omits
// land in Unresolved; any failed request fails the whole call.
func (r *Resolver) Resolve(ctx context.Context, names []string) (Resolution, error) {
	norm := NormalizeNames(names)
	res := Resolution{Resolved: make(map[string]string, len(norm))}

	for start := 0; start < len(norm); start += MaxBatch {
		end := min(start+MaxBatch, len(norm))
		batch := norm[start:end]

		users, err := call(ctx, r.api, "get users", func(c *helix.Client) ([]helix.User, helix.ResponseCommon, error) {
			resp, err := c.GetUsers(&helix.UsersParams{Logins: batch})
			if err != nil {
				return nil, helix.ResponseCommon{}, err
			}
			return resp.Data.Users, resp.ResponseCommon, nil
		})
		if err != nil {
			return Resolution{}, err
		}

		found := make(map[string]string, len(users))
		for _, u := range users {
			if u.ID == "" {
				continue
			}
			found[strings.ToLower(u.Login)] = u.ID
		}
		for _, name := range batch {
			if id, ok := found[name]; ok {
				res.Resolved[name] = id
			} else {
				res.Unresolved = append(res.Unresolved, name)
			}
		}
	}
	return res, nil
}
