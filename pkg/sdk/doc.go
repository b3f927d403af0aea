/*
Package sdk is the producer-side client for tinytrack.

Gateways and simulators use it to report tag positions without building
HTTP requests by hand:

	client, err := sdk.New(sdk.ClientConfig{
	    Endpoint:   "http://localhost:8080/v1/tracking-samples/batch",
	    FlushEvery: time.Second,
	})
	if err != nil {
	    log.Fatal(err)
	}
	client.Start(ctx)
	defer client.Stop()

	client.Position("AA:BB:CC:DD:EE:01", 1, 3.2, 1.8, time.Now())

# Batching

Reports are buffered and posted as one JSON array when either
MaxBatchSize reports are pending (default 100) or FlushEvery elapses
(default 1 second). Reports keep their order within a batch, so the
server sees each tag's positions in the order they were queued.

Stop uploads whatever is still buffered. A failed upload is logged and
counted in Stats; it is not retried.

# Timestamps

Timestamp renders a time as epoch seconds with millisecond precision.
The server keeps the string exactly as sent, so two reports for the same
tag must not share a timestamp unless they describe the same observation.
*/
package sdk
