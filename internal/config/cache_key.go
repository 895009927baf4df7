package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserSessionKey returns the cache key for a user's login session (JTI).
func (r *CacheKeyStruct) UserSessionKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// SessionEventChannel returns the Pub/Sub channel for an exam-session token.
// Session events (token invalidation, completion, timeout) fan out here.
func (r *CacheKeyStruct) SessionEventChannel(token string) string {
	return fmt.Sprintf("exam:session:%s:events", token)
}

var CacheKey = NewCacheKeyStruct()
