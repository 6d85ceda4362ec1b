package config

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"
)

// resolveUser parses the "user" config key (§6): a bare name, a numeric
// uid, or "uid:gid", returning nil pointers when spec is empty (meaning
// "don't change identity", §3 ProcessConfig.UID/GID).
func resolveUser(spec string) (uid, gid *uint32, err error) {
	if spec == "" {
		return nil, nil, nil
	}

	name, gidPart, hasGid := strings.Cut(spec, ":")

	if n, convErr := strconv.ParseUint(name, 10, 32); convErr == nil {
		u32 := uint32(n)
		uid = &u32
		if !hasGid {
			// A bare numeric uid still needs its passwd-entry primary gid,
			// the same as the by-name branch below, so Spawn does not fall
			// back to gid 0 for a user configured as e.g. "1000" (§4.C
			// "drop privileges"). When the uid has no passwd entry, gid
			// stays nil.
			if u, lookErr := user.LookupId(name); lookErr == nil {
				if gn, convErr := strconv.ParseUint(u.Gid, 10, 32); convErr == nil {
					g32 := uint32(gn)
					gid = &g32
				}
			}
		}
	} else {
		u, lookErr := user.Lookup(name)
		if lookErr != nil {
			return nil, nil, fmt.Errorf("unresolvable user %q: %w", name, lookErr)
		}
		n, _ := strconv.ParseUint(u.Uid, 10, 32)
		u32 := uint32(n)
		uid = &u32
		if !hasGid {
			gn, _ := strconv.ParseUint(u.Gid, 10, 32)
			g32 := uint32(gn)
			gid = &g32
		}
	}

	if hasGid {
		if n, convErr := strconv.ParseUint(gidPart, 10, 32); convErr == nil {
			g32 := uint32(n)
			gid = &g32
		} else {
			g, lookErr := user.LookupGroup(gidPart)
			if lookErr != nil {
				return nil, nil, fmt.Errorf("unresolvable group %q: %w", gidPart, lookErr)
			}
			n, _ := strconv.ParseUint(g.Gid, 10, 32)
			g32 := uint32(n)
			gid = &g32
		}
	}

	return uid, gid, nil
}
