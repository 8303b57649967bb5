package registry

import (
	"log/slog"

	"github.com/skeetlabs/mcp-skeet-gateway/pkg/connector"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/connector/mysql"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/connector/opensearch"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/connector/postgres"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/connector/redis"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/skeet"
)

// BuiltinFactories returns the connector factory for every well-known
// service kind.
func BuiltinFactories() map[skeet.Kind]Factory {
	return map[skeet.Kind]Factory{
		skeet.KindPostgres: func(l *slog.Logger) connector.Connector {
			return postgres.New(l)
		},
		skeet.KindMySQL: func(l *slog.Logger) connector.Connector {
			return mysql.New(l)
		},
		skeet.KindRedis: func(l *slog.Logger) connector.Connector {
			return redis.New(l)
		},
		skeet.KindOpenSearch: func(l *slog.Logger) connector.Connector {
			return opensearch.New(l)
		},
	}
}
