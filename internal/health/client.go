package health

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Report is the status of each service as seen by a probe.
type Report struct {
	Overall string `json:"overall"`
	Radio   string `json:"radio"`
	Broker  string `json:"broker"`
}

// Serving reports whether the bridge as a whole is serving.
func (r Report) Serving() bool {
	return r.Overall == healthpb.HealthCheckResponse_SERVING.String()
}

// Probe asks the health server at addr for every service's status.
func Probe(ctx context.Context, addr string, opts ...grpc.DialOption) (Report, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return Report{}, fmt.Errorf("health: dial %s: %w", addr, err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	var r Report
	for _, q := range []struct {
		service string
		dst     *string
	}{
		{"", &r.Overall},
		{ServiceRadio, &r.Radio},
		{ServiceBroker, &r.Broker},
	} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: q.service})
		if err != nil {
			return Report{}, fmt.Errorf("health: check %q: %w", q.service, err)
		}
		*q.dst = resp.GetStatus().String()
	}
	return r, nil
}
