package event

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

// UserUpdate fires when the connected user's own profile changes.
type UserUpdate struct {
	Old  *discordgo.User
	User *discordgo.User
}

func (UserUpdate) EventName() string { return "USER_UPDATE" }

func userUpdateType() Type {
	return Type{
		Name: "USER_UPDATE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var user discordgo.User
			if err := json.Unmarshal(raw, &user); err != nil {
				return nil, err
			}
			old, _ := s.Cache().User(ctx, user.ID)
			s.Cache().DeleteUser(ctx, user.ID)
			s.StoreUser(ctx, &user)
			return UserUpdate{Old: old, User: &user}, nil
		},
	}
}
