// Package telemetry provides OpenTelemetry tracing and metrics for feedcurate.
//
// Spans are exported over OTLP (grpc or http/protobuf) to a collector. The
// pipeline emits ingest.run, curate.select_premium and publish.records.
//
//	tcfg := telemetry.NewDefaultConfig()
//	if err := cfg.Section("telemetry", tcfg); err != nil {
//	    return err
//	}
//	tel, err := telemetry.New(ctx, tcfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Configuration:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sampling:
//	    rate: 1.0
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//
// Tests use NewTestTelemetry and AssertSpanExists.
package telemetry
