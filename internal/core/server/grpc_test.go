package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/solatis/segmentkeeper/internal/audience"
	"github.com/solatis/segmentkeeper/internal/core/api"
	"github.com/solatis/segmentkeeper/internal/core/auth"
	"github.com/solatis/segmentkeeper/internal/core/config"
	"github.com/solatis/segmentkeeper/internal/core/db"
	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/segments"
	"github.com/solatis/segmentkeeper/internal/types"
)

const secretID = "0123456789abcdef0123456789abcdef"

// harness runs the full stack (SQLite stores, API key auth, interceptors)
// over an in-memory listener.
type harness struct {
	conn *grpc.ClientConn
	key  string
}

func newHarness(t *testing.T) harness {
	t.Helper()
	ctx := context.Background()

	conn, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "server.db"), db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = db.MigrateUp(ctx, conn)
	require.NoError(t, err)
	q, err := db.LoadQueries(conn)
	require.NoError(t, err)

	customers := db.NewCustomerStore(q)
	for _, c := range []types.Customer{
		{Owner: "tenant-a", ExternalID: "1", Name: "Ada", TotalSpend: 15000, Tags: []string{"vip"}},
		{Owner: "tenant-a", ExternalID: "2", Name: "Bo", TotalSpend: 500},
	} {
		_, _, err := customers.Upsert(ctx, c)
		require.NoError(t, err)
	}

	secrets := map[string][]byte{secretID: []byte("server-test-secret-0123456789abcdef")}
	issued, err := auth.CreateAPIKey(ctx, q, secrets, secretID, "tenant-a", "test", time.Now())
	require.NoError(t, err)

	engine := rules.NewEngine()
	eval := audience.NewEvaluator(engine, customers, audience.Config{QueryTimeout: time.Second}, zerolog.Nop())
	segSvc := segments.NewService(db.NewSegmentStore(q), eval, segments.Config{}, zerolog.Nop())
	svc, err := api.NewSegmentService(engine, eval, segSvc, zerolog.Nop())
	require.NoError(t, err)

	cfg := config.Default().Server
	srv, err := NewGRPCServer(cfg, svc, auth.NewAuthenticator(secrets, q, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	client, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return harness{conn: client, key: issued.Key}
}

func TestNewGRPCServer_Rejections(t *testing.T) {
	cfg := config.Default().Server
	_, err := NewGRPCServer(cfg, nil, &auth.Authenticator{}, zerolog.Nop())
	assert.Error(t, err)

	cfg.RequestTimeout = 0
	_, err = NewGRPCServer(cfg, &api.SegmentService{}, &auth.Authenticator{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestServer_EndToEnd(t *testing.T) {
	h := newHarness(t)
	client := api.NewClient(h.conn)
	authed := metadata.AppendToOutgoingContext(context.Background(), auth.MetadataKey, h.key)

	health, err := grpc_health_v1.NewHealthClient(h.conn).Check(context.Background(),
		&grpc_health_v1.HealthCheckRequest{Service: api.ServiceName})
	require.NoError(t, err, "health check needs no API key")
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, health.Status)

	_, err = client.Call(context.Background(), api.MethodListFields, map[string]any{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	tree := map[string]any{"field": "tags", "operator": "has_all", "value": []any{"vip"}}
	preview, err := client.Call(authed, api.MethodPreviewAudience, map[string]any{"rules": tree})
	require.NoError(t, err)
	assert.Equal(t, 1.0, preview["audienceSize"])

	seg, err := client.Call(authed, api.MethodCreateSegment, map[string]any{"name": "VIPs", "rules": tree})
	require.NoError(t, err)
	assert.Equal(t, 1.0, seg["audienceSize"])

	got, err := client.Call(authed, api.MethodGetSegment, map[string]any{"id": seg["id"]})
	require.NoError(t, err)
	assert.Equal(t, "VIPs", got["name"])
	assert.Equal(t, "has_all", got["rules"].(map[string]any)["operator"])
}
