package redis

import (
	"fmt"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
)

// Layout:
//
//	autorole:communities        set of community ids with stored state
//	autorole:community:{id}     hash: enabled, seq, link:{key field} -> JSON entry
//	autorole:uses:{id}          hash: invite code -> last observed uses
const (
	communitiesKey = "autorole:communities"

	fieldEnabled = "enabled"
	fieldSeq     = "seq"
	linkPrefix   = "link:"
)

func communityKey(id string) string {
	return fmt.Sprintf("autorole:community:%s", id)
}

func usesKey(id string) string {
	return fmt.Sprintf("autorole:uses:%s", id)
}

func linkField(key autorole.InviteKey) string {
	return linkPrefix + key.Field()
}
