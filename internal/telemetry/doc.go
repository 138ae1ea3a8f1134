// Package telemetry provides OpenTelemetry instrumentation for agentjj.
//
// # Overview
//
// This package implements distributed tracing and metrics collection
// using the OpenTelemetry Go SDK, exporting over OTLP (gRPC or
// HTTP/protobuf) to a collector.
//
// # Usage
//
// Create a telemetry instance:
//
//	cfg := telemetry.NewConfig(appCfg.Telemetry)
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("agentjj.executor")
//	ctx, span := tracer.Start(ctx, "engine.run")
//	defer span.End()
//
//	meter := tel.Meter("agentjj.executor")
//	counter, _ := meter.Int64Counter("engine.commands")
//	counter.Add(ctx, 1)
//
// # Error Handling
//
// Telemetry failures do not crash the application. If a provider cannot
// be initialized the instance degrades gracefully and hands out no-op
// tracers and meters.
//
// # Testing
//
// Use TestTelemetry for in-memory span capture:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
