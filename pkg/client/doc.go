/*
Package client is the Go client of a running dbfleet server, used by the
CLI when --server is set.

It wraps the HTTP API served by pkg/api:

	c, err := client.NewClient("127.0.0.1:9090")
	if err != nil {
		return err
	}

	result, err := c.Apply(ctx, document)          // POST /v1/clusters
	report, err := c.Orchestrate(ctx, "orders",     // POST /v1/clusters/orders/orchestrate
		types.ModeDryRun)
	reports, err := c.ListReports(ctx, "orders", 10) // GET /v1/clusters/orders/reports

Non-2xx answers are returned as *APIError carrying the status code and the
server's error message.

CheckGRPC queries the gRPC health service directly, for probes that do not
go through HTTP.
*/
package client
