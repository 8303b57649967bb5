package redis

import "strings"

// readCommands are commands with no write effect. They are always allowed
// through redis_query.
var readCommands = map[string]bool{
	"GET":       true,
	"MGET":      true,
	"EXISTS":    true,
	"TTL":       true,
	"PTTL":      true,
	"TYPE":      true,
	"KEYS":      true,
	"SCAN":      true,
	"STRLEN":    true,
	"LLEN":      true,
	"LRANGE":    true,
	"LINDEX":    true,
	"SMEMBERS":  true,
	"SISMEMBER": true,
	"SCARD":     true,
	"HGET":      true,
	"HGETALL":   true,
	"HKEYS":     true,
	"HLEN":      true,
	"HMGET":     true,
	"ZRANGE":    true,
	"ZCARD":     true,
	"ZSCORE":    true,
	"ZRANK":     true,
	"DBSIZE":    true,
	"PING":      true,
	"INFO":      true,
}

// setCommands are the narrow set of value-setting mutations allowed through
// redis_query. Destructive or administrative commands (DEL, FLUSHALL,
// CONFIG, ...) are deliberately absent.
var setCommands = map[string]bool{
	"SET":    true,
	"SETEX":  true,
	"SETNX":  true,
	"MSET":   true,
	"APPEND": true,
	"HSET":   true,
	"LPUSH":  true,
	"RPUSH":  true,
	"SADD":   true,
	"ZADD":   true,
	"EXPIRE": true,
}

// commandAllowed reports whether the command name passes the allow-list.
func commandAllowed(name string) bool {
	upper := strings.ToUpper(name)
	return readCommands[upper] || setCommands[upper]
}
