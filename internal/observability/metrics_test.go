package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Check", method)

	service, method = splitFullMethod("bogus")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)
}

func TestHTTPMetricsMiddlewareCountsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/connections/:connection_id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/connections/:connection_id", "204"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connections/abc", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/connections/:connection_id", "204"))
	assert.Equal(t, before+1, after)
}

func TestGRPCInterceptorRecordsCode(t *testing.T) {
	interceptor := GRPCServerMetricsUnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/svc.Test/Fail"}

	before := testutil.ToFloat64(grpcServerHandledTotal.WithLabelValues("svc.Test", "Fail", codes.Unavailable.String()))
	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
	after := testutil.ToFloat64(grpcServerHandledTotal.WithLabelValues("svc.Test", "Fail", codes.Unavailable.String()))
	assert.Equal(t, before+1, after)
}

func TestViewAndSendCounters(t *testing.T) {
	before := testutil.ToFloat64(viewEventsTotal.WithLabelValues("insert", "duplicate"))
	IncViewEvent("insert", "duplicate")
	assert.Equal(t, before+1, testutil.ToFloat64(viewEventsTotal.WithLabelValues("insert", "duplicate")))

	before = testutil.ToFloat64(sendsTotal.WithLabelValues("rolled_back"))
	IncSend("rolled_back")
	assert.Equal(t, before+1, testutil.ToFloat64(sendsTotal.WithLabelValues("rolled_back")))
}
