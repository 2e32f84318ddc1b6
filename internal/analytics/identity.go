package analytics

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/waypost/waypost/internal/session"
)

// userIDKey is the persistent storage key for the per-profile user id.
const userIDKey = "waypost_user_id"

const fingerprintLen = 8

// Fingerprint hashes the stable environment characteristics into a
// short base36 token that diversifies generated user ids. It is not a
// tracking identifier on its own.
func Fingerprint(env Environment) string {
	components := []string{
		env.UserAgent,
		env.Language,
		strconv.Itoa(env.TimezoneOffset),
		fmt.Sprintf("%dx%d", env.ScreenWidth, env.ScreenHeight),
		strconv.Itoa(env.ColorDepth),
	}
	h := murmur3.Sum32([]byte(strings.Join(components, "|")))
	s := strconv.FormatUint(uint64(h), 36)
	if len(s) > fingerprintLen {
		s = s[:fingerprintLen]
	}
	return s
}

// UserID returns the stable per-profile user id, generating and
// persisting one on first call. The bool reports whether the id was
// created by this call (a new user).
func (f *Facade) UserID(env Environment) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userIDLocked(env)
}

func (f *Facade) userIDLocked(env Environment) (string, bool) {
	if f.userID != "" {
		return f.userID, false
	}

	if v, ok, err := f.store.Get(userIDKey); err == nil && ok && v != "" {
		f.userID = v
		return f.userID, false
	}

	f.userID = fmt.Sprintf("user_%d_%s_%s",
		f.clock.Now().UnixMilli(), session.RandomBase36(13), Fingerprint(env))
	f.createdSessID = f.session.SessionID()
	if err := f.store.Set(userIDKey, f.userID); err != nil {
		log.Printf("analytics: failed to persist user id: %v", err)
	}
	return f.userID, true
}
